package news

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are matched as case-insensitive substrings of query keys.
var trackingParams = []string{
	"utm", "fbclid", "gclid", "yclid", "mc_cid", "mc_eid",
	"_hsenc", "_hsmi", "igshid",
}

// trackingKeys are short enough to occur inside content keys such as docid,
// so they only match whole keys.
var trackingKeys = map[string]bool{
	"ocid":  true,
	"cmpid": true,
}

// Canonicalize strips tracking query parameters, drops the fragment,
// lowercases scheme and host and removes one trailing slash from the path.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url %q: not absolute", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = strings.TrimSuffix(u.RawPath, "/")

	return u.String(), nil
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if trackingKeys[lower] {
		return true
	}
	for _, p := range trackingParams {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ContentID is the stable article id derived from a canonical URL.
func ContentID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:12])
}

// Host returns the lowercased authority of a URL, or "" if it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
