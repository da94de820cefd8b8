package jobs

import (
	"context"
	"sync"
	"time"

	"sonara/internal/store"
)

// Job log statuses.
const (
	LogStarted   = "started"
	LogProgress  = "progress"
	LogSuccess   = "success"
	LogError     = "error"
	LogCancelled = "cancelled"
)

const maxLogEntries = 1000

// LogStore appends job lifecycle entries to the persisted document,
// keeping at most the newest 1000 globally. The read-modify-write against
// the backing store is serialized through a single mutex so concurrent
// appends never lose updates.
type LogStore struct {
	mu sync.Mutex
	st store.Store
}

func NewLogStore(st store.Store) *LogStore {
	return &LogStore{st: st}
}

// Append persists one entry, evicting the oldest entries beyond the cap.
// A zero timestamp is filled with the current time.
func (l *LogStore) Append(ctx context.Context, entry store.JobLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.st.LoadDocument(ctx)
	if err != nil {
		return err
	}
	if entry.TimestampMS == 0 {
		entry.TimestampMS = time.Now().UnixMilli()
	}
	if entry.DisplayName == "" {
		entry.DisplayName = "Unknown"
	}
	doc.JobLogs = append(doc.JobLogs, entry)
	if len(doc.JobLogs) > maxLogEntries {
		trimmed := make([]store.JobLogEntry, maxLogEntries)
		copy(trimmed, doc.JobLogs[len(doc.JobLogs)-maxLogEntries:])
		doc.JobLogs = trimmed
	}
	return l.st.SaveDocument(ctx, doc)
}

// Query returns entries newest-first, optionally filtered by job id
// (empty jobID returns everything).
func (l *LogStore) Query(ctx context.Context, jobID string) ([]store.JobLogEntry, error) {
	doc, err := l.st.LoadDocument(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.JobLogEntry, 0, len(doc.JobLogs))
	for i := len(doc.JobLogs) - 1; i >= 0; i-- {
		if jobID != "" && doc.JobLogs[i].JobID != jobID {
			continue
		}
		out = append(out, doc.JobLogs[i])
	}
	return out, nil
}
