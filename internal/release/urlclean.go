package release

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidURL is returned by CleanURL for values that cannot be coerced
// into a well-formed absolute URL. Callers drop the offending entry.
var ErrInvalidURL = errors.New("invalid url")

// urlPattern accepts http/https/ftp/ftps URLs with a registered domain,
// localhost, a dotted-quad IPv4, or an IPv6 literal, an optional port, and
// an optional path/query.
var urlPattern = regexp.MustCompile(`(?i)^(?:http|ftp)s?://` +
	`(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+(?:[A-Z]{2,6}\.?|[A-Z0-9-]{2,}\.?)|` + // domain...
	`localhost|` + // localhost...
	`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}|` + // ...or ipv4
	`\[?[A-F0-9]*:[A-F0-9:]+\]?)` + // ...or ipv6
	`(?::\d+)?` + // optional port
	`(?:/?|[/?]\S+)$`)

// CleanURL normalizes a URL candidate from index metadata:
//
//  1. a missing scheme defaults to http,
//  2. a missing host is recovered from the path segment,
//  3. a missing path becomes "/",
//  4. the result must match the canonical URL pattern, with one retry after
//     IDN-to-ASCII conversion of the host.
//
// It returns ErrInvalidURL when the value cannot be repaired.
func CleanURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}

	if u.Scheme == "" {
		u.Scheme = "http"
	}

	if u.Host == "" {
		// No domain was given; assume the path segment holds it. Re-parse
		// so the host/path boundary lands in the right place.
		u.Opaque = ""
		rebuilt := u.Scheme + "://" + u.Path
		if u.RawQuery != "" {
			rebuilt += "?" + u.RawQuery
		}
		if u.Fragment != "" {
			rebuilt += "#" + u.Fragment
		}
		u, err = url.Parse(rebuilt)
		if err != nil {
			return "", ErrInvalidURL
		}
	}

	if u.Path == "" {
		u.Path = "/"
	}

	cleaned := u.String()
	if urlPattern.MatchString(cleaned) {
		return cleaned, nil
	}

	// Trivial case failed; the host may be an internationalized domain.
	ace, err := idna.ToASCII(u.Host)
	if err != nil {
		return "", ErrInvalidURL
	}
	u.Host = ace

	cleaned = u.String()
	if !urlPattern.MatchString(cleaned) {
		return "", ErrInvalidURL
	}

	return cleaned, nil
}
