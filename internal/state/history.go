package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"videogateway/internal/domain"
)

// Keys under which the studio persists its state.
const (
	HistoryKey    = "videoHistory"
	ActiveJobsKey = "activeVideoJobs"
)

// HistoryStore reads and writes the history list and the active job ids as
// JSON documents in a KV.
type HistoryStore struct {
	kv     KV
	logger zerolog.Logger
}

func NewHistoryStore(kv KV, logger zerolog.Logger) *HistoryStore {
	return &HistoryStore{kv: kv, logger: logger}
}

// LoadHistory returns the stored entries, newest first. Unparseable data is
// cleared and reported as an empty history.
func (h *HistoryStore) LoadHistory(ctx context.Context) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	if err := h.load(ctx, HistoryKey, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveHistory replaces the stored history.
func (h *HistoryStore) SaveHistory(ctx context.Context, entries []domain.HistoryEntry) error {
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return h.save(ctx, HistoryKey, entries)
}

// LoadActiveIDs returns the ids of jobs that were being tracked.
func (h *HistoryStore) LoadActiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := h.load(ctx, ActiveJobsKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveActiveIDs stores the tracked ids. Placeholder ids are never persisted.
func (h *HistoryStore) SaveActiveIDs(ctx context.Context, ids []string) error {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || domain.IsPlaceholderID(id) {
			continue
		}
		kept = append(kept, id)
	}
	return h.save(ctx, ActiveJobsKey, kept)
}

// Clear removes both documents.
func (h *HistoryStore) Clear(ctx context.Context) error {
	return errors.Join(h.kv.Delete(ctx, HistoryKey), h.kv.Delete(ctx, ActiveJobsKey))
}

func (h *HistoryStore) load(ctx context.Context, key string, out any) error {
	raw, err := h.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		h.logger.Warn().Err(err).Str("key", key).Msg("state: discarding unreadable document")
		if delErr := h.kv.Delete(ctx, key); delErr != nil {
			return fmt.Errorf("state: clear %s: %w", key, delErr)
		}
		return nil
	}
	return nil
}

func (h *HistoryStore) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return h.kv.Set(ctx, key, raw)
}
