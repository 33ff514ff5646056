package stream

import (
	"context"
	"sync"
	"time"

	"ecolex.org/internal/obs"
)

// Event announces a committed change to a project aggregate.
type Event struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"projectId"`
	At        time.Time `json:"at"`
}

const subscriberBuffer = 16

type subscriber struct {
	ch        chan Event
	projectID string
}

// Stream delivers project change events to SSE clients. Publishing never
// blocks: a full subscriber buffer loses the event.
type Stream struct {
	mu     sync.RWMutex
	subs   map[uint64]subscriber
	nextID uint64
}

func New() *Stream {
	return &Stream{subs: make(map[uint64]subscriber)}
}

// Subscribe follows every project, or only projectID when it is non-empty.
// The channel closes once ctx is done.
func (s *Stream) Subscribe(ctx context.Context, projectID string) <-chan Event {
	sub := subscriber{ch: make(chan Event, subscriberBuffer), projectID: projectID}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()
	obs.StreamSubscribers.Inc()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.mu.Unlock()
		obs.StreamSubscribers.Dec()
	}()
	return sub.ch
}

// Publish implements compliance.Publisher.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.projectID != "" && sub.projectID != evt.ProjectID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			obs.EventsDropped.Inc()
		}
	}
}

// Subscribers reports how many clients are listening.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
