// Package pubsub implements Synap's wildcard publish/subscribe router: an
// exact-topic map keyed by the full topic string (not a per-segment trie),
// a separate wildcard-pattern list, and best-effort
// per-subscriber fan-out. Grounded on pkg/events.Broker's
// subscribe/unsubscribe/broadcast shape, extended with dot-segment pattern
// matching.
package pubsub

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivellm/synap/internal/errs"
	"github.com/hivellm/synap/pkg/log"
)

// Message is one delivered publish.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Metadata  map[string]string
	Timestamp time.Time
}

// Subscriber is a best-effort delivery channel. Sends never block: a full
// channel drops the message for that subscriber only.
type Subscriber chan *Message

type wildcard struct {
	pattern    string
	segments   []string
	subscriber string
}

// Router is the pub/sub state: exact subscriptions keyed by topic, a
// wildcard list, and subscriber-id -> channel.
type Router struct {
	mu          sync.RWMutex
	exact       map[string]map[string]struct{} // topic -> set of subscriber ids
	wildcards   []wildcard
	subscribers map[string]Subscriber

	published, delivered, dropped uint64
}

var logger = log.WithComponent("pubsub")

// New builds an empty Router.
func New() *Router {
	return &Router{
		exact:       make(map[string]map[string]struct{}),
		subscribers: make(map[string]Subscriber),
	}
}

// ValidatePattern rejects patterns with more than one '#' or a '#' not at
// the final segment.
func ValidatePattern(pattern string) error {
	segs := strings.Split(pattern, ".")
	hashCount := 0
	for i, s := range segs {
		if s == "#" {
			hashCount++
			if i != len(segs)-1 {
				return errs.New(errs.InvalidRequest, "'#' must be the final segment of pattern %q", pattern)
			}
		}
	}
	if hashCount > 1 {
		return errs.New(errs.InvalidRequest, "pattern %q has more than one '#'", pattern)
	}
	return nil
}

func isWildcardPattern(pattern string) bool {
	return strings.Contains(pattern, "*") || strings.Contains(pattern, "#")
}

// Subscribe assigns a fresh subscriber id and registers every pattern,
// returning the id and the number of patterns registered.
func (r *Router) Subscribe(patterns []string) (string, int, error) {
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return "", 0, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.subscribers[id] = make(Subscriber, 64)

	for _, p := range patterns {
		if isWildcardPattern(p) {
			r.wildcards = append(r.wildcards, wildcard{pattern: p, segments: strings.Split(p, "."), subscriber: id})
			continue
		}
		if r.exact[p] == nil {
			r.exact[p] = make(map[string]struct{})
		}
		r.exact[p][id] = struct{}{}
	}
	return id, len(patterns), nil
}

// Channel returns the subscriber's delivery channel, or (nil, false) if
// unknown.
func (r *Router) Channel(subscriberID string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.subscribers[subscriberID]
	return ch, ok
}

// Unsubscribe removes a subscriber from the named patterns, or from every
// subscription if patterns is empty.
func (r *Router) Unsubscribe(subscriberID string, patterns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(patterns) == 0 {
		for topic, subs := range r.exact {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(r.exact, topic)
			}
		}
		kept := r.wildcards[:0]
		for _, w := range r.wildcards {
			if w.subscriber != subscriberID {
				kept = append(kept, w)
			}
		}
		r.wildcards = kept
		delete(r.subscribers, subscriberID)
		return
	}

	set := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		set[p] = struct{}{}
	}
	for _, p := range patterns {
		if subs, ok := r.exact[p]; ok {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(r.exact, p)
			}
		}
	}
	kept := r.wildcards[:0]
	for _, w := range r.wildcards {
		if _, match := set[w.pattern]; match && w.subscriber == subscriberID {
			continue
		}
		kept = append(kept, w)
	}
	r.wildcards = kept
}

// matchSegments implements '*' (exactly one segment) and '#' (zero or more
// trailing segments).
func matchSegments(pattern, topic []string) bool {
	for i, p := range pattern {
		if p == "#" {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if p != "*" && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}

// Publish delivers payload to every exact and wildcard subscriber matching
// topic, best-effort (a full subscriber buffer is skipped, not blocked on).
func (r *Router) Publish(topic string, payload []byte, metadata map[string]string) (string, int, error) {
	topicSegs := strings.Split(topic, ".")

	r.mu.RLock()
	var targets []string
	if subs, ok := r.exact[topic]; ok {
		for id := range subs {
			targets = append(targets, id)
		}
	}
	for _, w := range r.wildcards {
		if matchSegments(w.segments, topicSegs) {
			targets = append(targets, w.subscriber)
		}
	}
	chans := make(map[string]Subscriber, len(targets))
	for _, id := range targets {
		if ch, ok := r.subscribers[id]; ok {
			chans[id] = ch
		}
	}
	r.mu.RUnlock()

	msg := &Message{ID: uuid.NewString(), Topic: topic, Payload: payload, Metadata: metadata, Timestamp: time.Now()}

	r.mu.Lock()
	r.published++
	r.mu.Unlock()

	matched := 0
	for id, ch := range chans {
		matched++
		select {
		case ch <- msg:
			r.mu.Lock()
			r.delivered++
			r.mu.Unlock()
		default:
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
			logger.Debug().Str("subscriber", id).Str("topic", topic).Msg("publish dropped: subscriber buffer full")
		}
	}
	return msg.ID, matched, nil
}

// Stats is a point-in-time snapshot of router activity.
type Stats struct {
	ExactTopics int
	Wildcards   int
	Subscribers int
	Published   uint64
	Delivered   uint64
	Dropped     uint64
}

func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		ExactTopics: len(r.exact),
		Wildcards:   len(r.wildcards),
		Subscribers: len(r.subscribers),
		Published:   r.published,
		Delivered:   r.delivered,
		Dropped:     r.dropped,
	}
}
