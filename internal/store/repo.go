package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gnmradar/gnm/internal/model"
)

// Repo runs the read queries backing the API endpoints.
type Repo struct {
	db *DB
}

// NewRepo creates a Repo over an opened database.
func NewRepo(db *DB) *Repo {
	return &Repo{db: db}
}

// TargetInfo summarizes one known target for the catalog endpoint.
type TargetInfo struct {
	TargetID string          `json:"target_id"`
	HostID   string          `json:"host_id,omitempty"`
	Type     model.CheckType `json:"type"`
	Region   string          `json:"region"`
	LastSeen time.Time       `json:"last_seen"`
}

const measurementColumns = "ts, region, project_id, target_id, host_id, type, status, latency_ms, meta_json"

// Recent returns the newest measurements, optionally filtered by region.
func (r *Repo) Recent(ctx context.Context, region string, limit, offset int) ([]model.Measurement, error) {
	var b strings.Builder
	args := []any{}
	fmt.Fprintf(&b, "SELECT %s FROM measurements", measurementColumns)
	if region != "" {
		b.WriteString(" WHERE region = ?")
		args = append(args, region)
	}
	b.WriteString(" ORDER BY id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	return r.queryMeasurements(ctx, b.String(), args...)
}

// LatestByTarget returns the most recent row per target. Rows are appended
// with monotonically increasing ids, so MAX(id) per target is the latest.
func (r *Repo) LatestByTarget(ctx context.Context, region string) ([]model.Measurement, error) {
	var b strings.Builder
	args := []any{}
	fmt.Fprintf(&b, `SELECT m.%s FROM measurements m
JOIN (SELECT target_id, MAX(id) AS max_id FROM measurements GROUP BY target_id) latest
  ON m.id = latest.max_id`, strings.ReplaceAll(measurementColumns, ", ", ", m."))
	if region != "" {
		b.WriteString(" WHERE m.region = ?")
		args = append(args, region)
	}
	b.WriteString(" ORDER BY m.target_id")

	return r.queryMeasurements(ctx, b.String(), args...)
}

// Timeseries returns rows for one target since the given time, oldest first.
func (r *Repo) Timeseries(ctx context.Context, targetID string, since time.Time, region string) ([]model.Measurement, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM measurements WHERE target_id = ? AND ts >= ?", measurementColumns)
	args := []any{targetID, r.db.BindTime(since)}
	if region != "" {
		b.WriteString(" AND region = ?")
		args = append(args, region)
	}
	b.WriteString(" ORDER BY id ASC")

	return r.queryMeasurements(ctx, b.String(), args...)
}

// Targets lists every target that has at least one measurement.
func (r *Repo) Targets(ctx context.Context) ([]TargetInfo, error) {
	query := r.db.Rebind(`SELECT m.target_id, m.host_id, m.type, m.region, m.ts
FROM measurements m
JOIN (SELECT target_id, MAX(id) AS max_id FROM measurements GROUP BY target_id) latest
  ON m.id = latest.max_id
ORDER BY m.target_id`)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: query targets: %w", err)
	}
	defer rows.Close()

	var out []TargetInfo
	for rows.Next() {
		var (
			info  TargetInfo
			rawTS any
		)
		if err := rows.Scan(&info.TargetID, &info.HostID, &info.Type, &info.Region, &rawTS); err != nil {
			return nil, fmt.Errorf("store: scan target: %w", err)
		}
		ts, err := r.db.ScanTime(rawTS)
		if err != nil {
			return nil, err
		}
		info.LastSeen = ts
		out = append(out, info)
	}
	return out, rows.Err()
}

func (r *Repo) queryMeasurements(ctx context.Context, query string, args ...any) ([]model.Measurement, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query measurements: %w", err)
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		var (
			m         model.Measurement
			rawTS     any
			projectID sql.NullInt64
			meta      sql.NullString
			status    int
		)
		if err := rows.Scan(&rawTS, &m.Region, &projectID, &m.TargetID, &m.HostID, &m.Type, &status, &m.LatencyMs, &meta); err != nil {
			return nil, fmt.Errorf("store: scan measurement: %w", err)
		}
		ts, err := r.db.ScanTime(rawTS)
		if err != nil {
			return nil, err
		}
		m.TS = ts
		m.Status = model.Status(status)
		m.ProjectID = nullInt64(projectID)
		if meta.Valid {
			m.MetaJSON = []byte(meta.String)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
