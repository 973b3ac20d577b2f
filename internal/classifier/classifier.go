// Package classifier condenses chat activity into a short digest of topics.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Digest is a condensed view of a batch of messages.
type Digest struct {
	Topics  []string `json:"topics"`
	Summary string   `json:"summary"`
}

type Classifier interface {
	Digest(ctx context.Context, messages []string) Digest
}

var topicKeywords = map[string][]string{
	"giveaway": {"giveaway", "airdrop", "whitelist", "raffle", "prize"},
	"support":  {"help", "issue", "problem", "error", "bug", "not working"},
	"pricing":  {"price", "buy", "cost", "sell", "pay"},
	"feedback": {"love", "great", "awesome", "thanks", "thank you", "nice"},
	"events":   {"event", "stream", "meetup", "live", "ama"},
	"question": {"how", "when", "where", "why", "?"},
}

// SimpleClassifier spots hashtags and keyword topics without any remote call.
type SimpleClassifier struct {
	maxTopics int
}

func NewSimpleClassifier(maxTopics int) *SimpleClassifier {
	if maxTopics <= 0 {
		maxTopics = 5
	}
	return &SimpleClassifier{maxTopics: maxTopics}
}

func (c *SimpleClassifier) Digest(_ context.Context, messages []string) Digest {
	counts := make(map[string]int)

	for _, msg := range messages {
		seen := make(map[string]struct{})
		for _, word := range strings.Fields(msg) {
			if strings.HasPrefix(word, "#") {
				tag := strings.ToLower(strings.Trim(word, "#.,!?"))
				if tag != "" {
					seen[tag] = struct{}{}
				}
			}
		}

		lower := strings.ToLower(msg)
		for topic, keywords := range topicKeywords {
			for _, keyword := range keywords {
				if strings.Contains(lower, keyword) {
					seen[topic] = struct{}{}
					break
				}
			}
		}

		for topic := range seen {
			counts[topic]++
		}
	}

	topics := make([]string, 0, len(counts))
	for topic := range counts {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > c.maxTopics {
		topics = topics[:c.maxTopics]
	}

	return Digest{Topics: topics, Summary: summarize(len(messages), topics)}
}

func summarize(n int, topics []string) string {
	noun := "messages"
	if n == 1 {
		noun = "message"
	}
	if len(topics) == 0 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	top := topics
	if len(top) > 3 {
		top = top[:3]
	}
	return fmt.Sprintf("%d %s, mostly about %s", n, noun, strings.Join(top, ", "))
}
