package zotero

import (
	"fmt"
	"slices"
)

// Subscription pairs a credential with the topics it should receive. An
// empty APIKey is the public, unauthenticated subscription. A keyed
// subscription without topics asks for every topic the key can access.
type Subscription struct {
	APIKey string   `json:"apiKey,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// TopicRef names one topic of a credential. An empty Topic refers to the
// whole subscription of that credential.
type TopicRef struct {
	APIKey string `json:"apiKey,omitempty"`
	Topic  string `json:"topic,omitempty"`
}

// SubscriptionSet is the desired subscription state, at most one entry per
// credential. It is not safe for concurrent use; Stream guards its set with
// its own mutex.
type SubscriptionSet struct {
	order   []string
	entries map[string][]string
}

// NewSubscriptionSet returns an empty set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{entries: make(map[string][]string)}
}

// Update inserts each subscription, replacing the topics of an existing
// entry for the same credential rather than merging them.
func (s *SubscriptionSet) Update(subs ...Subscription) {
	for _, sub := range subs {
		if _, ok := s.entries[sub.APIKey]; !ok {
			s.order = append(s.order, sub.APIKey)
		}
		s.entries[sub.APIKey] = dedupe(sub.Topics)
	}
}

// Add appends topic to the entry for apiKey. It fails with
// ErrNoSubscription when there is no such entry.
func (s *SubscriptionSet) Add(apiKey, topic string) error {
	topics, ok := s.entries[apiKey]
	if !ok {
		return fmt.Errorf("%w for key %q", ErrNoSubscription, redactKey(apiKey))
	}
	if !slices.Contains(topics, topic) {
		s.entries[apiKey] = append(topics, topic)
	}
	return nil
}

// Remove drops topic from the entry for apiKey. Unknown credentials and
// topics are ignored.
func (s *SubscriptionSet) Remove(apiKey, topic string) {
	topics, ok := s.entries[apiKey]
	if !ok {
		return
	}
	if i := slices.Index(topics, topic); i >= 0 {
		s.entries[apiKey] = slices.Delete(topics, i, i+1)
	}
}

// Cancel removes single topics, or whole entries for refs without a topic.
// Unknown credentials are ignored.
func (s *SubscriptionSet) Cancel(refs ...TopicRef) {
	for _, ref := range refs {
		if ref.Topic != "" {
			s.Remove(ref.APIKey, ref.Topic)
			continue
		}
		if _, ok := s.entries[ref.APIKey]; !ok {
			continue
		}
		delete(s.entries, ref.APIKey)
		s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == ref.APIKey })
	}
}

// Topics returns the union of all entries' topics in replay order.
func (s *SubscriptionSet) Topics() []string {
	var all []string
	for _, key := range s.order {
		for _, t := range s.entries[key] {
			if !slices.Contains(all, t) {
				all = append(all, t)
			}
		}
	}
	return all
}

// Has reports whether the entry for apiKey contains topic.
func (s *SubscriptionSet) Has(apiKey, topic string) bool {
	return slices.Contains(s.entries[apiKey], topic)
}

// IsEmpty reports whether the set has no entries.
func (s *SubscriptionSet) IsEmpty() bool { return len(s.entries) == 0 }

// Len returns the number of entries.
func (s *SubscriptionSet) Len() int { return len(s.entries) }

// Subscriptions returns a copy of every entry in insertion order.
func (s *SubscriptionSet) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, Subscription{APIKey: key, Topics: slices.Clone(s.entries[key])})
	}
	return out
}

func dedupe(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// redactKey keeps API keys out of error strings and logs.
func redactKey(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[:4] + "…"
}
