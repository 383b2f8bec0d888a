package liveevents

import (
	"errors"
	"strings"
	"sync"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// ProviderAll subscribes to every provider's events.
const ProviderAll = "all"

// LiveEvent is the trimmed wire shape pushed to dashboard watchers as
// usage events are emitted. It carries no metadata payload.
type LiveEvent struct {
	EventID       string  `json:"event_id"`
	Timestamp     string  `json:"timestamp"`
	Provider      string  `json:"provider"`
	Service       string  `json:"service"`
	SubjectUserID string  `json:"subject_user_id,omitempty"`
	Units         int64   `json:"units"`
	CostUSD       float64 `json:"cost_usd"`
}

// Hub fans emitted usage events out to per-provider subscriber streams.
// Each stream keeps a short replay buffer so a fresh subscriber sees
// recent activity immediately. Slow subscribers drop events rather than
// block the emit path.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub      *Hub
	provider string
	id       uint64
	ch       chan LiveEvent
	once     sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers one event to the provider's stream and the all
// providers stream.
func (h *Hub) Publish(event LiveEvent) {
	if h == nil {
		return
	}
	provider := strings.TrimSpace(event.Provider)
	if provider == "" {
		return
	}
	h.publishTo(provider, event)
	h.publishTo(ProviderAll, event)
}

func (h *Hub) publishTo(provider string, event LiveEvent) {
	h.mu.RLock()
	stream := h.streams[provider]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe attaches to a provider's stream and returns the buffered
// backlog. Provider "all" watches every provider.
func (h *Hub) Subscribe(provider string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderAll
	}

	stream := h.ensureStream(provider)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan LiveEvent)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]LiveEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:      h,
		provider: provider,
		id:       id,
		ch:       ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(provider string) *stream {
	h.mu.RLock()
	current := h.streams[provider]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[provider]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[provider] = current
	}
	return current
}

func (h *Hub) unsubscribe(provider string, id uint64) {
	if h == nil {
		return
	}

	h.mu.RLock()
	stream := h.streams[provider]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[provider]
	if current != stream {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, provider)
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.provider, s.id)
	})
}
