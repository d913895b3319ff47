// Package usagelog appends the request audit log off the hot path.
package usagelog

import (
	"log/slog"
	"sync"

	"keymeter/internal/metrics"
	"keymeter/internal/model"

	"github.com/google/uuid"
)

// Store is the slice of the storage service the logger needs.
type Store interface {
	AddUsageRecord(rec *model.UsageRecord) error
}

// Metadata carries optional per-request cost information supplied by
// the metered endpoint.
type Metadata struct {
	Model         string
	TokensInput   int
	TokensOutput  int
	CostEstimated float64
}

// Logger persists usage records through a buffered queue and a single
// worker goroutine. Recording is best-effort: a full queue drops the
// record and a write failure is logged, never surfaced to the request
// that was already allowed.
type Logger struct {
	queue     chan model.UsageRecord
	store     Store
	logger    *slog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Logger and starts its worker.
func New(store Store, queueSize int, logger *slog.Logger) *Logger {
	l := &Logger{
		queue:  make(chan model.UsageRecord, queueSize),
		store:  store,
		logger: logger.With("component", "usagelog"),
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

// Record enqueues one usage record. It never blocks.
func (l *Logger) Record(principalID, endpoint string, meta Metadata) {
	rec := model.UsageRecord{
		RequestID:     uuid.NewString(),
		PrincipalID:   principalID,
		Endpoint:      endpoint,
		Model:         meta.Model,
		TokensInput:   meta.TokensInput,
		TokensOutput:  meta.TokensOutput,
		CostEstimated: meta.CostEstimated,
	}
	select {
	case l.queue <- rec:
	default:
		metrics.UsageRecordsDropped.Inc()
		l.logger.Warn("Usage record dropped: queue is full", "principal_id", principalID, "endpoint", endpoint)
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for rec := range l.queue {
		if err := l.store.AddUsageRecord(&rec); err != nil {
			// Metering outages must not become availability outages;
			// the failure is only a diagnostic signal.
			l.logger.Warn("Failed to persist usage record", "principal_id", rec.PrincipalID, "endpoint", rec.Endpoint, "error", err)
		}
	}
	l.logger.Info("Usage log worker stopped.")
}

// Close drains the queue and stops the worker. Callers must stop
// recording first; Close is safe to call more than once.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.queue)
		l.wg.Wait()
	})
}
