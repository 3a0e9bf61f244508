package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/iksnae/medichat/internal"
)

// HistoryFetcher retrieves the server-side transcript of a session
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, sessionID string) ([]internal.HistoryRecord, error)
}

// HistorySync turns server history into local messages
type HistorySync struct {
	fetcher HistoryFetcher
}

// NewHistorySync creates a HistorySync over the given fetcher
func NewHistorySync(fetcher HistoryFetcher) *HistorySync {
	return &HistorySync{fetcher: fetcher}
}

// Fetch retrieves and maps the history of sessionID
func (h *HistorySync) Fetch(ctx context.Context, sessionID string) ([]internal.Message, error) {
	start := time.Now()
	records, err := h.fetcher.FetchHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	msgs := MapHistory(records)
	internal.LogDebug("Fetched %d history records (%d usable) in %v", len(records), len(msgs), time.Since(start))
	return msgs, nil
}

// MapHistory converts history records to finalised messages. Records with an
// unknown role are skipped. Empty or repeated ids get a fresh local id.
func MapHistory(records []internal.HistoryRecord) []internal.Message {
	msgs := make([]internal.Message, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		role, ok := internal.ParseRole(rec.Role)
		if !ok {
			internal.LogWarn("Skipping history record %q with unknown role %q", string(rec.ID), rec.Role)
			continue
		}
		id := string(rec.ID)
		if id == "" || seen[id] {
			id = internal.NewMessageID()
		}
		seen[id] = true
		msgs = append(msgs, internal.Message{
			ID:      id,
			Role:    role,
			Content: rec.Content,
		})
	}
	return msgs
}
