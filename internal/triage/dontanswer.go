package triage

import (
	"context"
	"sync"

	"github.com/linnemanlabs/parley/internal/chat"
)

// dontAnswerSet is the in-memory view of chats excluded from triage. The
// store carries the durable status; this set exists so the hot ingestion
// path can check exclusion without a query. Mutations go through
// UpdateStatus, which keeps the set in sync.
type dontAnswerSet struct {
	mu  sync.RWMutex
	ids map[string]bool
}

func newDontAnswerSet() *dontAnswerSet {
	return &dontAnswerSet{ids: make(map[string]bool)}
}

func (d *dontAnswerSet) contains(chatID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ids[chatID]
}

func (d *dontAnswerSet) add(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[chatID] = true
}

func (d *dontAnswerSet) remove(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ids, chatID)
}

func (d *dontAnswerSet) replace(chatIDs []string) {
	ids := make(map[string]bool, len(chatIDs))
	for _, id := range chatIDs {
		ids[id] = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = ids
}

// LoadDontAnswer seeds the exclusion set from the store. Called once at
// startup and safe to call again to resync.
func (s *Service) LoadDontAnswer(ctx context.Context) error {
	chatIDs, err := s.store.ChatIDsByStatus(ctx, chat.StatusDontAnswer)
	if err != nil {
		return err
	}
	s.dontAnswer.replace(chatIDs)
	s.logger.Info(ctx, "loaded excluded chats", "count", len(chatIDs))
	return nil
}
