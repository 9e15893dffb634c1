package orch

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
)

type feedEntry struct {
	Publisher   domain.RemotePublisher
	Feed        *SubscriberFeed
	Unpublished bool
}

// Registry is the publisher-id keyed map of subscriber feeds. It is the
// only state shared between gateway callbacks.
type Registry struct {
	mu    sync.RWMutex
	feeds map[domain.PublisherID]*feedEntry
}

func NewRegistry() *Registry {
	return &Registry{
		feeds: make(map[domain.PublisherID]*feedEntry),
	}
}

// Reserve binds feed to pub.ID unless a live feed is already bound. An
// entry left behind by an unpublish is replaced and its feed returned as
// stale so the caller can tear it down.
func (r *Registry) Reserve(pub domain.RemotePublisher, feed *SubscriberFeed) (stale *SubscriberFeed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, exists := r.feeds[pub.ID]; exists {
		if !e.Unpublished {
			return nil, false
		}
		stale = e.Feed
	}
	r.feeds[pub.ID] = &feedEntry{Publisher: pub, Feed: feed}
	log.Info().Str("module", "orch.registry").Str("publisher", string(pub.ID)).Msg("reserved feed")
	return stale, true
}

func (r *Registry) Get(id domain.PublisherID) (*SubscriberFeed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.feeds[id]; ok {
		return e.Feed, true
	}
	return nil, false
}

func (r *Registry) Publisher(id domain.PublisherID) (domain.RemotePublisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.feeds[id]; ok {
		return e.Publisher, true
	}
	return domain.RemotePublisher{}, false
}

func (r *Registry) MarkUnpublished(id domain.PublisherID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.feeds[id]
	if !ok {
		return false
	}
	e.Unpublished = true
	log.Info().Str("module", "orch.registry").Str("publisher", string(id)).Msg("marked unpublished")
	return true
}

// Remove deletes the entry for id only while it still holds feed.
func (r *Registry) Remove(id domain.PublisherID, feed *SubscriberFeed) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.feeds[id]
	if !ok || e.Feed != feed {
		return false
	}
	delete(r.feeds, id)
	log.Info().Str("module", "orch.registry").Str("publisher", string(id)).Msg("removed feed")
	return true
}

func (r *Registry) Feeds() []*SubscriberFeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SubscriberFeed, 0, len(r.feeds))
	for _, e := range r.feeds {
		out = append(out, e.Feed)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}

// PublisherSnapshot is a read-only view for APIs.
type PublisherSnapshot struct {
	ID          domain.PublisherID `json:"id"`
	Display     string             `json:"display"`
	ScreenShare bool               `json:"screen_share"`
	Unpublished bool               `json:"unpublished"`
	Subscribed  []string           `json:"subscribed"`
}

func (r *Registry) Snapshot() []PublisherSnapshot {
	r.mu.RLock()
	out := make([]PublisherSnapshot, 0, len(r.feeds))
	feeds := make([]*SubscriberFeed, 0, len(r.feeds))
	for id, e := range r.feeds {
		out = append(out, PublisherSnapshot{
			ID:          id,
			Display:     e.Publisher.Display,
			ScreenShare: e.Publisher.Metadata.IsScreenShare,
			Unpublished: e.Unpublished,
		})
		feeds = append(feeds, e.Feed)
	}
	r.mu.RUnlock()

	for i, f := range feeds {
		out[i].Subscribed = f.SubscribedMIDs()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
