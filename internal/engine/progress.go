package engine

import "sync"

// Update is one progress event delivered to stream subscribers.
type Update struct {
	Status   string  `json:"status"`
	Progress *int    `json:"progress"`
	Message  *string `json:"message"`
	RunID    *int64  `json:"run_id"`
	Error    *string `json:"error"`
}

// Terminal reports whether the update ends the stream.
func (u Update) Terminal() bool {
	return u.Status == StatusCompleted || u.Status == StatusError
}

// broadcaster fans progress updates out to any number of subscribers.
// Sends never block: a subscriber that falls behind loses intermediate
// updates but always sees the latest state on subscribe.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan Update]struct{}
	last Update
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs: make(map[chan Update]struct{}),
		last: Update{Status: StatusIdle},
	}
}

// Subscribe registers a new subscriber and primes it with the latest
// update. The returned cancel func must be called to release it.
func (b *broadcaster) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	ch <- b.last
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *broadcaster) Publish(u Update) {
	b.mu.Lock()
	b.last = u
	for ch := range b.subs {
		select {
		case ch <- u:
		default:
			// Drop for slow subscribers; they still hold the channel and
			// will see later updates.
		}
	}
	b.mu.Unlock()
}
