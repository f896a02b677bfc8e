// Package progress is an in-process pub/sub hub for per-check progress
// events. Delivery is best-effort: slow subscribers are dropped rather
// than blocking the pipeline, and a late subscriber to a finished check
// receives a replay of its terminal event.
package progress

import (
	"sync"

	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/model"
)

const subscriberBuffer = 16

// Broadcaster fans progress events out to websocket subscribers.
type Broadcaster struct {
	mu sync.Mutex
	// subs maps check id to its open subscriber channels.
	subs map[string]map[chan model.ProgressEvent]struct{}
	// seq holds the next sequence number per check.
	seq map[string]int
	// terminal retains the terminal event of finished checks for replay.
	terminal map[string]model.ProgressEvent
	logger   *zap.Logger
}

// NewBroadcaster creates an empty hub.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:     make(map[string]map[chan model.ProgressEvent]struct{}),
		seq:      make(map[string]int),
		terminal: make(map[string]model.ProgressEvent),
		logger:   logger,
	}
}

// Subscribe registers a listener for one check. The returned cancel
// function is idempotent and safe after the stream has closed. A
// subscription to an already-finished check immediately receives the
// terminal event and a closed channel.
func (b *Broadcaster) Subscribe(checkID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if ev, done := b.terminal[checkID]; done {
		b.mu.Unlock()
		ch <- ev
		close(ch)
		return ch, func() {}
	}
	if b.subs[checkID] == nil {
		b.subs[checkID] = make(map[chan model.ProgressEvent]struct{})
	}
	b.subs[checkID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[checkID]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
				}
			}
		})
	}
	return ch, cancel
}

// Publish assigns the event's sequence number and delivers it to every
// subscriber. A subscriber whose buffer is full is dropped. The terminal
// event (percent 100) closes all streams for the check.
func (b *Broadcaster) Publish(checkID string, ev model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.terminal[checkID]; done {
		return
	}

	b.seq[checkID]++
	ev.CheckID = checkID
	ev.Seq = b.seq[checkID]

	isTerminal := ev.Percent >= 100
	if isTerminal {
		b.terminal[checkID] = ev
		delete(b.seq, checkID)
	}

	for ch := range b.subs[checkID] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping slow progress subscriber",
				zap.String("check_id", checkID))
			delete(b.subs[checkID], ch)
			close(ch)
			continue
		}
		if isTerminal {
			delete(b.subs[checkID], ch)
			close(ch)
		}
	}
	if isTerminal {
		delete(b.subs, checkID)
	}
}

// Forget drops the retained terminal event for a check. Callers use it
// to bound replay memory when checks are purged.
func (b *Broadcaster) Forget(checkID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.terminal, checkID)
}
