package domain

import (
	"net/url"
	"strings"
)

// SourceTagFromURL normalizes a URL into a source tag: the registrable label
// of the host with the www. prefix and TLD stripped, e.g.
// https://www.youtube.com/watch?v=x -> youtube. Second-level public suffixes
// like co.uk keep the label before them.
func SourceTagFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return host
	}

	second := parts[len(parts)-2]
	switch second {
	case "co", "com", "org", "net":
		if len(parts) >= 3 {
			return parts[len(parts)-3]
		}
	}
	return second
}
