package anon

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/mesh-intelligence/journal/pkg/types"
)

// tokenPattern is the full shape of a bottle token.
var tokenPattern = regexp.MustCompile(`^qr_[A-Za-z0-9]{20,30}$`)

// ValidToken reports whether s is a well-formed bottle token.
func ValidToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// ParseBottleToken extracts the bottle token from a scanned string. The
// input is either a bare token or a link on one of allowedHosts whose last
// path segment is the token. Rejections never echo the input.
func ParseBottleToken(raw string, allowedHosts []string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", types.Invalid("bottle_token", "scan is empty")
	}

	candidate := s
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return "", types.Invalid("bottle_token", "scan is not a valid link")
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return "", types.Invalid("bottle_token", "link scheme %q is not supported", u.Scheme)
		}
		if !hostAllowed(u.Hostname(), allowedHosts) {
			return "", types.Invalid("bottle_token", "link host %q is not a recognized product domain", u.Hostname())
		}
		path := strings.Trim(u.Path, "/")
		if path == "" {
			return "", types.Invalid("bottle_token", "link has no token")
		}
		candidate = path[strings.LastIndex(path, "/")+1:]
	}

	if !ValidToken(candidate) {
		return "", types.Invalid("bottle_token", "must be qr_ followed by 20 to 30 letters or digits")
	}
	return candidate, nil
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, h := range allowed {
		if strings.ToLower(strings.TrimSpace(h)) == host {
			return true
		}
	}
	return false
}
