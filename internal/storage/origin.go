package storage

import (
	"net/url"
	"path"
	"strings"
)

// URLPrefixer is implemented by uploaders that know where their files are
// served from.
type URLPrefixer interface {
	URLPrefix() string
}

// AllowedPrefixes returns the URL prefixes under which u serves files, or
// nil when u does not say.
func AllowedPrefixes(u Uploader) []string {
	if p, ok := u.(URLPrefixer); ok && p.URLPrefix() != "" {
		return []string{p.URLPrefix()}
	}
	return nil
}

// URLAllowed reports whether raw is an http(s) URL under one of prefixes.
// The URL is normalized first (host case, default ports, dot segments), so
// "/files/../admin" does not pass as a file. Userinfo is never allowed.
func URLAllowed(raw string, prefixes []string) bool {
	norm, ok := normalizeURL(raw)
	if !ok {
		return false
	}
	for _, p := range prefixes {
		np, ok := normalizeURL(p)
		if !ok {
			continue
		}
		np = strings.TrimSuffix(np, "/") + "/"
		if strings.HasPrefix(norm, np) {
			return true
		}
	}
	return false
}

func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.User != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	clean := path.Clean(p)
	if strings.HasSuffix(p, "/") && clean != "/" {
		clean += "/"
	}
	return scheme + "://" + host + clean, true
}
