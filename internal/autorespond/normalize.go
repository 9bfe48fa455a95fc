package autorespond

import (
	"net/url"
	"strings"
)

const (
	cdnCanonicalHost     = "cdn.discordapp.com"
	cdnMirrorHost        = "media.discordapp.net"
	attachmentPathPrefix = "/attachments/"
)

// expiringParams are the time-limited signature parameters Discord appends
// to attachment links. Two links differing only in these refer to the same
// object.
var expiringParams = map[string]struct{}{
	"ex": {},
	"is": {},
	"hm": {},
}

// NormalizeURL canonicalizes first-party CDN attachment links: the media
// mirror host is rewritten to the canonical CDN host and expiring signature
// parameters are stripped, so rotated links dedup to one cache key. Any
// other URL, including unparsable input, is returned unchanged with
// ok=false. Normalization is an optimization, never a correctness
// requirement.
func NormalizeURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}

	host := strings.ToLower(u.Hostname())
	if host == cdnMirrorHost {
		host = cdnCanonicalHost
	}
	if host != cdnCanonicalHost || !strings.HasPrefix(u.Path, attachmentPathPrefix) {
		return raw, false
	}

	u.Host = host
	q := u.Query()
	for name := range expiringParams {
		q.Del(name)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""

	normalized := u.String()
	return normalized, normalized != raw
}
