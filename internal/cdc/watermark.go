package cdc

import "sync"

// WatermarkStore tracks, per (store file, table), the highest row
// identifier already delivered to the caller. Marks live in memory only:
// on restart MarkAllRead re-seeds them from each table's current maximum,
// so history is never replayed.
type WatermarkStore struct {
	mu    sync.Mutex
	marks map[string]int64
}

// NewWatermarkStore creates an empty watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{marks: make(map[string]int64)}
}

func markKey(store, table string) string {
	return store + "|" + table
}

// Get returns the watermark for a table, 0 when none exists yet.
func (w *WatermarkStore) Get(store, table string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marks[markKey(store, table)]
}

// Advance raises a table's watermark. No-op when id is not greater than
// the current mark, so watermarks are monotonically non-decreasing.
func (w *WatermarkStore) Advance(store, table string, id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := markKey(store, table)
	if id > w.marks[key] {
		w.marks[key] = id
	}
}
