package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gnmradar/gnm/internal/config"
	"github.com/gnmradar/gnm/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.DBConfig{
		Driver:             DriverSQLite,
		Path:               filepath.Join(t.TempDir(), "gnm.db"),
		PoolMaxCached:      2,
		PoolMaxConnections: 4,
	}
	db, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func testMeasurement(targetID string, ts time.Time, status model.Status) model.Measurement {
	return model.Measurement{
		TS:        ts,
		Region:    "EU",
		TargetID:  targetID,
		HostID:    "h1",
		Type:      model.CheckHTTP,
		Status:    status,
		LatencyMs: 42,
		MetaJSON:  []byte(`{"probe_region":"EU"}`),
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DBConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 5, nil)

	now := time.Now().UTC().Truncate(time.Millisecond)
	project := int64(7)
	m := testMeasurement("svc-1", now, model.StatusOK)
	m.ProjectID = &project

	written, err := w.WriteBatch(context.Background(), []model.Measurement{m})
	if err != nil {
		t.Fatal(err)
	}
	if written != 1 {
		t.Fatalf("written = %d, want 1", written)
	}

	rows, err := NewRepo(db).Recent(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	got := rows[0]
	if !got.TS.Equal(now) {
		t.Errorf("ts = %v, want %v", got.TS, now)
	}
	if got.ProjectID == nil || *got.ProjectID != project {
		t.Errorf("project_id = %v, want %d", got.ProjectID, project)
	}
	if got.TargetID != "svc-1" || got.Status != model.StatusOK || got.LatencyMs != 42 {
		t.Errorf("row = %+v", got)
	}
	if string(got.MetaJSON) != `{"probe_region":"EU"}` {
		t.Errorf("meta_json = %s", got.MetaJSON)
	}

	stats := w.Stats()
	if stats.Inserted != 1 || stats.Dropped != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWriterNilOptionals(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 5, nil)

	m := testMeasurement("svc-1", time.Now().UTC(), model.StatusOK)
	m.ProjectID = nil
	m.MetaJSON = nil

	if _, err := w.WriteBatch(context.Background(), []model.Measurement{m}); err != nil {
		t.Fatal(err)
	}
	rows, err := NewRepo(db).Recent(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].ProjectID != nil {
		t.Errorf("project_id = %v, want nil", rows[0].ProjectID)
	}
	if rows[0].MetaJSON != nil {
		t.Errorf("meta_json = %s, want nil", rows[0].MetaJSON)
	}
}

func TestWriterDatastoreUnavailable(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 2, nil)
	// Fail fast in tests.
	w.policy.MaxAttempts = 1
	w.policy.BaseDelay = 0
	db.Close()

	batch := []model.Measurement{testMeasurement("svc-1", time.Now().UTC(), model.StatusOK)}

	if _, err := w.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("first failed cycle should not be fatal: %v", err)
	}
	_, err := w.WriteBatch(context.Background(), batch)
	if !errors.Is(err, ErrDatastoreUnavailable) {
		t.Fatalf("err = %v, want ErrDatastoreUnavailable", err)
	}
}

func TestRetryableInsertError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"cancellation is final", context.Canceled, false},
		{"deadline is transient", context.DeadlineExceeded, true},
		{"bad connection", driver.ErrBadConn, true},
		{"eof", io.EOF, true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("unreachable")}, true},
		{"sqlite lock contention", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"connection refused text", errors.New("dial error: connection refused"), true},
		{"constraint violation", errors.New("UNIQUE constraint failed: measurements.id"), false},
		{"bad sql", errors.New(`pq: column "nope" does not exist`), false},
		{"auth failure", errors.New("pgx: password authentication failed"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryableInsertError(tc.err); got != tc.want {
				t.Errorf("retryableInsertError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWriterFailedCycleCounterResets(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 2, nil)
	w.failedCycles = 1

	batch := []model.Measurement{testMeasurement("svc-1", time.Now().UTC(), model.StatusOK)}
	if _, err := w.WriteBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if w.failedCycles != 0 {
		t.Fatalf("failedCycles = %d, want 0", w.failedCycles)
	}
}

func TestRepoRecentRegionFilterAndPaging(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 5, nil)

	base := time.Now().UTC().Add(-time.Hour)
	var batch []model.Measurement
	for i := 0; i < 5; i++ {
		m := testMeasurement("svc-1", base.Add(time.Duration(i)*time.Minute), model.StatusOK)
		if i%2 == 1 {
			m.Region = "NA"
		}
		batch = append(batch, m)
	}
	if _, err := w.WriteBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}

	repo := NewRepo(db)
	euRows, err := repo.Recent(context.Background(), "EU", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(euRows) != 3 {
		t.Fatalf("EU rows = %d, want 3", len(euRows))
	}

	paged, err := repo.Recent(context.Background(), "", 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 2 {
		t.Fatalf("paged rows = %d, want 2", len(paged))
	}
	// Newest first, offset skips the newest row.
	if !paged[0].TS.Equal(base.Add(3 * time.Minute).Truncate(time.Millisecond)) {
		t.Errorf("paged[0].ts = %v", paged[0].TS)
	}
}

func TestRepoLatestByTarget(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 5, nil)

	base := time.Now().UTC().Add(-time.Hour)
	batch := []model.Measurement{
		testMeasurement("svc-a", base, model.StatusOK),
		testMeasurement("svc-a", base.Add(time.Minute), model.StatusCrit),
		testMeasurement("svc-b", base, model.StatusWarn),
	}
	if _, err := w.WriteBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}

	rows, err := NewRepo(db).LatestByTarget(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].TargetID != "svc-a" || rows[0].Status != model.StatusCrit {
		t.Errorf("svc-a latest = %+v", rows[0])
	}
	if rows[1].TargetID != "svc-b" || rows[1].Status != model.StatusWarn {
		t.Errorf("svc-b latest = %+v", rows[1])
	}
}

func TestRepoTimeseries(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 5, nil)

	now := time.Now().UTC()
	batch := []model.Measurement{
		testMeasurement("svc-a", now.Add(-3*time.Hour), model.StatusOK),
		testMeasurement("svc-a", now.Add(-30*time.Minute), model.StatusOK),
		testMeasurement("svc-a", now.Add(-5*time.Minute), model.StatusCrit),
		testMeasurement("svc-b", now.Add(-5*time.Minute), model.StatusOK),
	}
	if _, err := w.WriteBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}

	rows, err := NewRepo(db).Timeseries(context.Background(), "svc-a", now.Add(-time.Hour), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if !rows[0].TS.Before(rows[1].TS) {
		t.Error("timeseries must be oldest first")
	}
}

func TestRepoTargets(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, 5, nil)

	now := time.Now().UTC()
	batch := []model.Measurement{
		testMeasurement("svc-a", now.Add(-time.Minute), model.StatusOK),
		testMeasurement("svc-a", now, model.StatusOK),
		testMeasurement("svc-b", now, model.StatusOK),
	}
	if _, err := w.WriteBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}

	targets, err := NewRepo(db).Targets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	if targets[0].TargetID != "svc-a" || targets[0].Type != model.CheckHTTP {
		t.Errorf("targets[0] = %+v", targets[0])
	}
}

func TestRebind(t *testing.T) {
	sqlite := &DB{Driver: DriverSQLite}
	pg := &DB{Driver: DriverPostgres}

	q := "INSERT INTO t (a, b) VALUES (?, ?)"
	if got := sqlite.Rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	if got := pg.Rebind(q); got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("postgres rebind = %s", got)
	}
}

func TestScanTimeRoundTrip(t *testing.T) {
	db := &DB{Driver: DriverSQLite}
	now := time.Now().UTC().Truncate(time.Millisecond)

	bound, ok := db.BindTime(now).(string)
	if !ok {
		t.Fatal("sqlite BindTime should produce a string")
	}
	got, err := db.ScanTime(bound)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(now) {
		t.Fatalf("round trip %v != %v", got, now)
	}
}
