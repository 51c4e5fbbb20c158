package tally

import (
	"sync"
)

// Feed pushes committed snapshots to in-process subscribers. A subscription
// to one answer holds at most one pending snapshot: a newer one replaces an
// unread older one, so a slow reader sees the latest state and never blocks
// the publisher. Subscriptions to every answer buffer allBuffer snapshots and
// drop the oldest when full.
type Feed struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{} // "" subscribes to every answer
}

const allBuffer = 64

type subscription struct {
	ch   chan Snapshot
	last map[string]int64 // highest revision delivered per answer
}

var _ Publisher = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[*subscription]struct{})}
}

// Subscribe returns a channel of snapshots for answerID (or every answer
// when answerID is empty) and a cancel func that closes the channel.
func (f *Feed) Subscribe(answerID string) (<-chan Snapshot, func()) {
	size := 1
	if answerID == "" {
		size = allBuffer
	}
	sub := &subscription{
		ch:   make(chan Snapshot, size),
		last: make(map[string]int64),
	}

	f.mu.Lock()
	if f.subs[answerID] == nil {
		f.subs[answerID] = make(map[*subscription]struct{})
	}
	f.subs[answerID][sub] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[answerID], sub)
			if len(f.subs[answerID]) == 0 {
				delete(f.subs, answerID)
			}
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers s to matching subscribers without blocking.
func (f *Feed) Publish(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs[s.AnswerID] {
		sub.offer(s)
	}
	if s.AnswerID != "" {
		for sub := range f.subs[""] {
			sub.offer(s)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, set := range f.subs {
		n += len(set)
	}
	return n
}

// offer must be called with the feed lock held.
func (s *subscription) offer(snap Snapshot) {
	if last, ok := s.last[snap.AnswerID]; ok && snap.Revision <= last {
		return
	}
	s.last[snap.AnswerID] = snap.Revision

	select {
	case s.ch <- snap:
		return
	default:
	}
	// Buffer full: drop the oldest pending snapshot.
	select {
	case <-s.ch:
		feedDropped.Inc()
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
