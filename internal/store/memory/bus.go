package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

const subscriberBuffer = 64

// Bus is an in-process domain.SignalBus used when redis is disabled.
// Slow subscribers drop messages rather than block publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][][]byte
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][][]byte),
	}
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published after the call. It is
// closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend appends to a stream. Entry ids are the decimal sequence
// number, starting at 1.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

// StreamRead returns up to count entries after lastID. "0" or "" reads from
// the start.
func (b *Bus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start, _ := strconv.Atoi(lastID)
	entries := b.streams[stream]
	var out []domain.StreamMessage
	for i := start; i < len(entries); i++ {
		if count > 0 && len(out) >= count {
			break
		}
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i + 1), Payload: entries[i]})
	}
	return out, nil
}
