package store

import (
	"context"
	"sync"

	"inventory-service/internal/util"

	"go.uber.org/zap"
)

type subscriber struct {
	mu sync.Mutex
	fn func(Snapshot)
}

// hub fans snapshots out to collection subscribers
type hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]*subscriber
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[int]*subscriber)}
}

func (h *hub) add(collection string, fn func(Snapshot)) (int, *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	sub := &subscriber{fn: fn}
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[int]*subscriber)
	}
	h.subs[collection][h.next] = sub
	return h.next, sub
}

func (h *hub) remove(collection string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[collection], id)
}

func (h *hub) collections() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.subs))
	for c, subs := range h.subs {
		if len(subs) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// deliver reads the snapshot while holding the subscriber lock so the last
// delivery a subscriber sees is never older than the last commit.
func (h *hub) deliver(ctx context.Context, sub *subscriber, collection string, lister Lister) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	docs, err := lister.List(ctx, collection)
	if err != nil {
		util.GetLogger().Error("Failed to load snapshot for subscriber",
			zap.String("collection", collection),
			zap.Error(err))
		return
	}
	sub.fn(Snapshot{Collection: collection, Documents: docs})
}

func (h *hub) notify(ctx context.Context, collection string, lister Lister) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs[collection]))
	for _, sub := range h.subs[collection] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.deliver(ctx, sub, collection, lister)
	}
}
