package preview

import (
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// EnsureScheme trims raw and prefixes https:// unless it already names http
// or https.
func EnsureScheme(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}

// NormalizeURL turns user input into the canonical absolute URL used as the
// cache identity. Scheme-less input defaults to https. The result has a
// lowercase scheme and host, a punycode host for internationalized names, no
// default port and at least "/" as path, so NormalizeURL is idempotent.
func NormalizeURL(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", NewValidationError(MsgURLRequired)
	}

	u, err := url.Parse(EnsureScheme(raw))
	if err != nil {
		return "", &Error{Kind: KindValidation, Msg: MsgInvalidURL, Err: err}
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", NewValidationError(MsgInvalidURL)
	}
	if u.Hostname() == "" || u.Opaque != "" {
		return "", NewValidationError(MsgInvalidURL)
	}

	if host := u.Hostname(); !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", &Error{Kind: KindValidation, Msg: MsgInvalidURL, Err: err}
		}
		if port := u.Port(); port != "" {
			ascii = net.JoinHostPort(ascii, port)
		}
		u.Host = ascii
	}

	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if strings.HasSuffix(u.Host, ":") {
		u.Host = strings.TrimSuffix(u.Host, ":")
	}
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	return u.String(), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
