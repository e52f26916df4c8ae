package mqtt

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveCandidates builds the ordered broker candidate list: the optional
// override first, then the fallbacks. Blank entries are dropped and
// duplicates keep their first position.
func ResolveCandidates(override string, fallbacks []string) []string {
	out := make([]string, 0, len(fallbacks)+1)
	seen := make(map[string]bool, len(fallbacks)+1)

	add := func(raw string) {
		v := strings.TrimSpace(raw)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}

	add(override)
	for _, f := range fallbacks {
		add(f)
	}
	return out
}

// ValidateEndpoint reports whether raw is a usable candidate: a ws:// or
// wss:// URI with a host whose path ends in mountPath (e.g. "/mqtt").
// The query string is not part of the path check.
func ValidateEndpoint(raw, mountPath string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return fmt.Errorf("%w: %q: scheme must be ws or wss", ErrInvalidEndpoint, raw)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}

	if !strings.HasSuffix(u.Path, mountPath) {
		return fmt.Errorf("%w: %q: path must end in %s", ErrInvalidEndpoint, raw, mountPath)
	}

	return nil
}

// redactEndpoint strips userinfo so credentials never reach the logs.
func redactEndpoint(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
