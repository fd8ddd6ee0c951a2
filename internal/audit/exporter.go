// exporter.go tails the audit_records table and forwards newly committed
// records to the configured shippers. Export works off the table rather than
// the write path so that only committed records leave the system: a record
// written inside a transaction that later rolls back is never shipped.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/jinkaiteo/qms-backend/internal/db/repositories"
	"github.com/jinkaiteo/qms-backend/internal/safego"
	"github.com/jinkaiteo/qms-backend/internal/telemetry"
)

// DefaultExportInterval is the poll interval used when none is configured.
const DefaultExportInterval = 10 * time.Second

// exportBatchSize caps how many records one poll cycle reads.
const exportBatchSize = 500

// Exporter periodically reads audit records past its watermark and ships them.
// The watermark is held in memory and seeded from the current table maximum at
// Start, so a restart resumes from the records written after it came back up.
type Exporter struct {
	repo     *repositories.AuditRepository
	shipper  Shipper
	interval time.Duration

	mu     sync.Mutex
	lastID int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewExporter creates an Exporter over the given repository and shipper. A
// non-positive interval falls back to DefaultExportInterval.
func NewExporter(repo *repositories.AuditRepository, shipper Shipper, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = DefaultExportInterval
	}
	return &Exporter{
		repo:     repo,
		shipper:  shipper,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start seeds the watermark and launches the poll loop in the background.
func (e *Exporter) Start(ctx context.Context) error {
	maxID, err := e.repo.MaxID(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.lastID = maxID
	e.mu.Unlock()

	safego.Go("audit-exporter", func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.poll(ctx)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	})
	return nil
}

// Stop terminates the poll loop. It does not close the shipper; the caller
// owns that.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}

// poll ships every record past the watermark, draining in batches until the
// table is caught up. A failed delivery does not advance the watermark past
// the failed record, so it is retried on the next cycle.
func (e *Exporter) poll(ctx context.Context) {
	for {
		e.mu.Lock()
		after := e.lastID
		e.mu.Unlock()

		records, err := e.repo.ListSince(ctx, after, exportBatchSize)
		if err != nil {
			telemetry.AuditExportErrorsTotal.Inc()
			return
		}
		if len(records) == 0 {
			return
		}

		for _, rec := range records {
			if err := e.shipper.Ship(ctx, NewExportEntry(rec)); err != nil {
				telemetry.AuditExportErrorsTotal.Inc()
				return
			}
			e.mu.Lock()
			e.lastID = rec.ID
			e.mu.Unlock()
			telemetry.AuditRecordsExportedTotal.Inc()
		}

		if len(records) < exportBatchSize {
			return
		}
	}
}
