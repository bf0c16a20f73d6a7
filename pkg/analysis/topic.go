package analysis

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// GeneralTopic prefixes keys of analyses with no ticker.
const GeneralTopic = "GENERAL"

const topicBuckets = 256

// TopicKey groups repeated coverage of one event: the primary ticker (or
// GENERAL) followed by an 8-bit bucket of the lowercased title joined
// directly to the snippet.
// Distinct stories about one ticker can share a bucket.
func TopicKey(tickers []string, title, snippet string) string {
	prefix := GeneralTopic
	for _, t := range tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			prefix = t
			break
		}
	}
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(title + snippet)))
	return prefix + "_" + strconv.Itoa(int(h.Sum32()%topicBuckets))
}
