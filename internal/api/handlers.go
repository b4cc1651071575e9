package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gnmradar/gnm/internal/model"
	"github.com/gnmradar/gnm/internal/store"
)

// MeasurementDTO is the wire shape of one measurement row.
type MeasurementDTO struct {
	TS        time.Time       `json:"ts"`
	Region    string          `json:"region"`
	ProjectID *int64          `json:"project_id,omitempty"`
	TargetID  string          `json:"target_id"`
	HostID    string          `json:"host_id,omitempty"`
	Type      model.CheckType `json:"type"`
	Status    int             `json:"status"`
	LatencyMs int64           `json:"latency_ms"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

func toDTOs(rows []model.Measurement) []MeasurementDTO {
	out := make([]MeasurementDTO, len(rows))
	for i, m := range rows {
		out[i] = MeasurementDTO{
			TS:        m.TS,
			Region:    m.Region,
			ProjectID: m.ProjectID,
			TargetID:  m.TargetID,
			HostID:    m.HostID,
			Type:      m.Type,
			Status:    int(m.Status),
			LatencyMs: m.LatencyMs,
			Meta:      json.RawMessage(m.MetaJSON),
		}
	}
	return out
}

// HandleHealth returns a handler for GET /health. No authentication.
func HandleHealth(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"reason": "datastore unreachable",
			})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleLast returns a handler for GET /api/last: newest measurements,
// optionally filtered by region, paginated.
func HandleLast(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}

		rows, err := repo.Recent(r.Context(), r.URL.Query().Get("region"), p.Limit, p.Offset)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "query failed")
			return
		}
		WritePage(w, http.StatusOK, toDTOs(rows), p)
	}
}

// HandleLastByTarget returns a handler for GET /api/last-by-target: the
// latest row per target. Results are cached briefly per region.
func HandleLastByTarget(repo *store.Repo, cache *ResponseCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		region := r.URL.Query().Get("region")
		if cache != nil {
			if rows, ok := cache.Get(region); ok {
				WriteJSON(w, http.StatusOK, map[string]any{"items": rows})
				return
			}
		}

		rows, err := repo.LatestByTarget(r.Context(), region)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "query failed")
			return
		}
		dtos := toDTOs(rows)
		if cache != nil {
			cache.Set(region, dtos)
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": dtos})
	}
}

// HandleTimeseries returns a handler for GET /api/timeseries: rows for one
// target over the requested window, oldest first.
func HandleTimeseries(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targetID := r.URL.Query().Get("target_id")
		if targetID == "" {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "target_id is required")
			return
		}
		hours, err := ParseHours(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
			return
		}

		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		rows, err := repo.Timeseries(r.Context(), targetID, since, r.URL.Query().Get("region"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "query failed")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"target_id": targetID,
			"hours":     hours,
			"items":     toDTOs(rows),
		})
	}
}

// HandleTargets returns a handler for GET /api/meta/targets: every target
// with at least one measurement.
func HandleTargets(repo *store.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets, err := repo.Targets(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "INTERNAL", "query failed")
			return
		}
		if targets == nil {
			targets = []store.TargetInfo{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": targets})
	}
}
