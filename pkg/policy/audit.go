package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	auditBufferSize    = 256
	auditFlushInterval = 2 * time.Second
	auditFlushBatch    = 32
)

// AuditWriter is an async, buffered writer for the policy audit log.
// Entries are sent to an internal channel and flushed by a background
// goroutine, so a Save/Delete call never blocks on a database round trip.
type AuditWriter struct {
	store   *Store
	logger  *slog.Logger
	entries chan AuditEntry
	wg      sync.WaitGroup
}

// NewAuditWriter creates an AuditWriter. Call Start to begin processing.
func NewAuditWriter(store *Store, logger *slog.Logger) *AuditWriter {
	return &AuditWriter{
		store:   store,
		logger:  logger,
		entries: make(chan AuditEntry, auditBufferSize),
	}
}

// Start launches the background flush loop and returns immediately. The
// loop stops when ctx is cancelled (after flushing the entries already
// queued) or when Close is called.
func (w *AuditWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *AuditWriter) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry. It never blocks the caller; if the buffer
// is full the entry is dropped and a warning is logged.
func (w *AuditWriter) Log(entry AuditEntry) {
	select {
	case w.entries <- entry:
	default:
		if w.logger != nil {
			w.logger.Warn("policy audit buffer full, dropping entry",
				"tenant_id", entry.TenantID, "action", entry.Action)
		}
	}
}

func (w *AuditWriter) run(ctx context.Context) {
	ticker := time.NewTicker(auditFlushInterval)
	defer ticker.Stop()

	batch := make([]AuditEntry, 0, auditFlushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= auditFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *AuditWriter) flush(entries []AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.store.InsertAuditEntries(ctx, entries); err != nil && w.logger != nil {
		w.logger.Error("flushing policy audit log", "count", len(entries), "error", err)
	}
}
