package metainfo

import (
	"net/url"
	"strings"

	"audiobridge/internal/domain"
)

// Magnet builds "magnet:?xt=urn:btih:<hex>&dn=<name>". The dn parameter is
// omitted for an empty name.
func Magnet(hash domain.InfoHash, name string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(hash.String())
	if name = strings.TrimSpace(name); name != "" {
		b.WriteString("&dn=")
		b.WriteString(escapeComponent(name))
	}
	return b.String()
}

// MagnetWithTrackers appends one tr parameter per non-empty tracker.
func MagnetWithTrackers(hash domain.InfoHash, name string, trackers []string) string {
	var b strings.Builder
	b.WriteString(Magnet(hash, name))
	for _, tr := range trackers {
		if tr = strings.TrimSpace(tr); tr == "" {
			continue
		}
		b.WriteString("&tr=")
		b.WriteString(escapeComponent(tr))
	}
	return b.String()
}

// escapeComponent query-escapes s with spaces as %20.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
