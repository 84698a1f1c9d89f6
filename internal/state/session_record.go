package state

import (
	"context"
	"encoding/json"
	"strings"
)

const LastSessionKey = "session:last"

// Store is the key/value subset the record needs; sqlite.Store satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// SessionRecord summarizes the most recent session for operators. It is
// informational only and never used to resume a session.
type SessionRecord struct {
	Direction   string `json:"direction"`
	Coin        string `json:"coin"`
	TargetSize  string `json:"target_size"`
	HedgedSize  string `json:"hedged_size"`
	FinalPrice  string `json:"final_price"`
	Reprices    int    `json:"reprices"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`
	StartedAtMS int64  `json:"started_at_ms"`
	EndedAtMS   int64  `json:"ended_at_ms"`
}

func LoadLastSession(ctx context.Context, store Store) (SessionRecord, bool, error) {
	if store == nil {
		return SessionRecord{}, false, nil
	}
	raw, ok, err := store.Get(ctx, LastSessionKey)
	if err != nil {
		return SessionRecord{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return SessionRecord{}, false, nil
	}
	var record SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return SessionRecord{}, false, err
	}
	return record, true, nil
}

func SaveLastSession(ctx context.Context, store Store, record SessionRecord) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, LastSessionKey, string(payload))
}
