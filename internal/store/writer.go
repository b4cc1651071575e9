package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/gnmradar/gnm/internal/backoff"
	"github.com/gnmradar/gnm/internal/model"
)

// ErrDatastoreUnavailable is returned by WriteBatch once the configured
// number of consecutive cycles wrote nothing at all. The collector treats it
// as fatal.
var ErrDatastoreUnavailable = errors.New("store: datastore unavailable for too many consecutive cycles")

const insertMeasurementSQL = `
INSERT INTO measurements (ts, region, project_id, target_id, host_id, type, status, latency_ms, meta_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// WriterStats exposes the appender counters.
type WriterStats struct {
	Inserted int64
	Dropped  int64
	Retries  int64
}

// Writer appends measurement rows with per-insert retry. Rows that exhaust
// the retry budget are dropped and logged, never blocking the next cycle.
type Writer struct {
	db     *DB
	policy backoff.Policy
	log    *zap.Logger

	inserted *xsync.Counter
	dropped  *xsync.Counter
	retries  *xsync.Counter

	maxFailedCycles int
	failedCycles    int
}

// NewWriter creates a Writer with the default retry policy: 5 attempts,
// exponential from 200ms, jittered.
func NewWriter(db *DB, maxFailedCycles int, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db: db,
		policy: backoff.Policy{
			MaxAttempts:    5,
			BaseDelay:      200 * time.Millisecond,
			MaxDelay:       3 * time.Second,
			JitterFraction: 0.2,
			Retryable:      retryableInsertError,
		},
		log:             log,
		inserted:        xsync.NewCounter(),
		dropped:         xsync.NewCounter(),
		retries:         xsync.NewCounter(),
		maxFailedCycles: maxFailedCycles,
	}
}

// retryableInsertError reports whether an insert failure is transient:
// connection loss, timeouts, and sqlite lock contention. Permanent failures
// (constraint violations, malformed SQL, auth) fail the row on the first
// attempt. Cancellation is final; an expired per-attempt deadline is retried
// under the outer context, which backoff.Do checks between attempts.
func retryableInsertError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, transient := range []string{
		"database is locked", // modernc sqlite SQLITE_BUSY
		"database table is locked",
		"connection refused",
		"connection reset",
		"broken pipe",
	} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

// WriteBatch persists one cycle's measurements. It returns the number of
// rows written and ErrDatastoreUnavailable once maxFailedCycles consecutive
// batches wrote zero rows.
func (w *Writer) WriteBatch(ctx context.Context, batch []model.Measurement) (int, error) {
	written := 0
	for i := range batch {
		if err := w.insertWithRetry(ctx, &batch[i]); err != nil {
			w.dropped.Inc()
			w.log.Error("measurement dropped after retries",
				zap.String("target_id", batch[i].TargetID),
				zap.String("type", string(batch[i].Type)),
				zap.Error(err),
			)
			continue
		}
		written++
	}

	if len(batch) > 0 && written == 0 {
		w.failedCycles++
		if w.maxFailedCycles > 0 && w.failedCycles >= w.maxFailedCycles {
			return written, fmt.Errorf("%w (%d cycles)", ErrDatastoreUnavailable, w.failedCycles)
		}
	} else if written > 0 {
		w.failedCycles = 0
	}
	return written, nil
}

func (w *Writer) insertWithRetry(ctx context.Context, m *model.Measurement) error {
	attempt := 0
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			w.retries.Inc()
		}
		return w.insert(ctx, m)
	})
	if err == nil {
		w.inserted.Inc()
	}
	return err
}

func (w *Writer) insert(ctx context.Context, m *model.Measurement) error {
	var meta any
	if len(m.MetaJSON) > 0 {
		meta = string(m.MetaJSON)
	}
	var projectID any
	if m.ProjectID != nil {
		projectID = *m.ProjectID
	}

	_, err := w.db.ExecContext(ctx, w.db.Rebind(insertMeasurementSQL),
		w.db.BindTime(m.TS),
		m.Region,
		projectID,
		m.TargetID,
		m.HostID,
		string(m.Type),
		int(m.Status),
		m.LatencyMs,
		meta,
	)
	return err
}

// Stats returns a snapshot of the appender counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Inserted: w.inserted.Value(),
		Dropped:  w.dropped.Value(),
		Retries:  w.retries.Value(),
	}
}

// nullInt64 converts an optional int64 for scanning.
func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
