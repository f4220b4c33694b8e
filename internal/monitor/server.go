// Package monitor implements the Monitoring Service (spec §4.8): a
// read-mostly HTTP surface over the Analytical Store's ledger and
// aggregate tables, opened in DuckDB's concurrent-read mode so dashboards
// never block the writer.
//
// A running Job Runner holds DuckDB's exclusive single-writer file lock for
// the whole process lifetime, so a co-located read-only open genuinely can
// fail (spec §4.8, SPEC_FULL §5). When it does, every handler falls back to
// the Remote Ledger Store's Postgres mirror instead of refusing to serve.
//
// Grounded on postgres-ducklake-flusher/go/health.go's JSON-endpoint shape,
// generalised from net/http's bare ServeMux to gorilla/mux for path
// variables, and extended with a Prometheus /metrics endpoint via
// client_golang/prometheus/promhttp, matching the rest of the pack's
// preference for a real metrics library over hand-rolled text output.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/withObsrvr/exchange-ingest/internal/analyticalstore"
	"github.com/withObsrvr/exchange-ingest/internal/logging"
	"github.com/withObsrvr/exchange-ingest/internal/remoteledger"
	"github.com/withObsrvr/exchange-ingest/internal/shutdown"
)

// Server is the Monitoring Service's HTTP handler set.
type Server struct {
	store          *analyticalstore.Store // nil when the local DuckDB file could not be opened read-only
	remote         *remoteledger.Store    // fallback read path when store is nil; may itself be disabled
	rendezvousPath string
	log            *logging.ComponentLogger

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New builds a Server. store should have been opened read-only
// (analyticalstore.Open(path, true, ...)) so its reads never contend with a
// concurrently running Job Runner's single writer connection; pass nil when
// that open failed (the file was exclusively locked), in which case every
// handler falls back to remote. remote may also be nil, or simply disabled,
// in which case a handler serves an error only when store is also nil.
func New(store *analyticalstore.Store, remote *remoteledger.Store, rendezvousPath string, log *logging.ComponentLogger) *Server {
	s := &Server{
		store:          store,
		remote:         remote,
		rendezvousPath: rendezvousPath,
		log:            log,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_ingest_monitor_requests_total",
			Help: "Total HTTP requests served by the monitoring service.",
		}, []string{"path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "exchange_ingest_monitor_request_duration_seconds",
			Help: "Monitoring service request latency.",
		}, []string{"path"}),
	}
	prometheus.MustRegister(s.requestsTotal, s.requestDuration)
	return s
}

// Router builds the gorilla/mux router for all endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/overview", s.handleOverview).Methods(http.MethodGet)
	r.HandleFunc("/api/progress_detail", s.handleProgressDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/errors", s.handleErrors).Methods(http.MethodGet)
	r.HandleFunc("/api/statistics", s.handleStatistics).Methods(http.MethodGet)
	r.HandleFunc("/control/shutdown", s.handleControlShutdown).Methods(http.MethodPost)
	r.HandleFunc("/control/resume", s.handleControlResume).Methods(http.MethodPost)

	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.requestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
		s.requestsTotal.WithLabelValues(r.URL.Path, fmt.Sprintf("%d", rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy", "read_source": s.readSourceName()})
}

func (s *Server) readSourceName() string {
	if s.store != nil {
		return "duckdb"
	}
	if s.remote != nil && s.remote.Enabled() {
		return "postgres_fallback"
	}
	return "unavailable"
}

// rows is a minimal scanning surface shared by *sql.Rows and pgx.Rows, so
// every handler below can read from whichever source is live without
// duplicating its scan loop per backend.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// query runs duckSQL against the local Analytical Store when it is open, or
// pgSQL against the Remote Ledger Store's Postgres mirror when it is not
// (spec §4.8's read-replica fallback for an exclusively locked DuckDB file).
// It returns an error only when neither read source is available at all.
func (s *Server) query(ctx context.Context, duckSQL string, duckArgs []any, pgSQL string, pgArgs []any) (rows, func(), error) {
	if s.store != nil {
		r, err := s.store.Query(ctx, duckSQL, duckArgs...)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	}
	if s.remote != nil {
		r, err := s.remote.Query(ctx, pgSQL, pgArgs...)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	}
	return nil, nil, fmt.Errorf("monitor: no read source available: analytical store is locked by the job runner and the remote ledger mirror is disabled")
}

// overviewRow is one exchange's counts-by-status summary.
type overviewRow struct {
	Exchange     string `json:"exchange"`
	Completed    int64  `json:"completed"`
	Failed       int64  `json:"failed"`
	Skipped      int64  `json:"skipped"`
	Started      int64  `json:"started"`
	TotalRecords int64  `json:"total_records"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rs, closeRows, err := s.query(ctx, `
		SELECT exchange,
		       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'started' THEN 1 ELSE 0 END),
		       COALESCE(SUM(records_loaded), 0)
		FROM gold.progress_records
		GROUP BY exchange
	`, nil, `
		SELECT exchange,
		       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'started' THEN 1 ELSE 0 END),
		       COALESCE(SUM(records_loaded), 0)
		FROM progress_records
		GROUP BY exchange
	`, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer closeRows()

	overview := make([]overviewRow, 0, 3)
	for rs.Next() {
		var row overviewRow
		if err := rs.Scan(&row.Exchange, &row.Completed, &row.Failed, &row.Skipped, &row.Started, &row.TotalRecords); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		overview = append(overview, row)
	}
	if err := rs.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var runningCount int64
	if s.store != nil {
		_ = s.store.QueryRow(ctx, `
			SELECT COUNT(*) FROM gold.progress_records
			WHERE status = 'started' AND start_time > CURRENT_TIMESTAMP - INTERVAL '2 minutes'
		`).Scan(&runningCount)
	} else if s.remote != nil {
		if row, err := s.remote.QueryRow(ctx, `
			SELECT COUNT(*) FROM progress_records
			WHERE status = 'started' AND start_time > NOW() - INTERVAL '2 minutes'
		`); err == nil {
			_ = row.Scan(&runningCount)
		}
	}

	writeJSON(w, map[string]any{
		"exchanges":          overview,
		"is_running":         runningCount > 0,
		"shutdown_requested": shutdown.FileExists(s.rendezvousPath),
		"read_source":        s.readSourceName(),
	})
}

func (s *Server) handleProgressDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rs, closeRows, err := s.query(ctx, `
		SELECT stats_date, exchange, total_files, successful_files, failed_files, total_records,
		       avg_records_per_file, total_processing_time_secs, total_file_size_bytes, avg_file_size_bytes
		FROM gold.daily_statistics
		ORDER BY stats_date DESC, exchange
		LIMIT 500
	`, nil, `
		SELECT stats_date, exchange, total_files, successful_files, failed_files, total_records,
		       avg_records_per_file, total_processing_time_secs, total_file_size_bytes, avg_file_size_bytes
		FROM daily_statistics
		ORDER BY stats_date DESC, exchange
		LIMIT 500
	`, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer closeRows()

	type point struct {
		StatsDate               time.Time `json:"stats_date"`
		Exchange                string    `json:"exchange"`
		TotalFiles              int64     `json:"total_files"`
		SuccessfulFiles         int64     `json:"successful_files"`
		FailedFiles             int64     `json:"failed_files"`
		TotalRecords            int64     `json:"total_records"`
		AvgRecordsPerFile       string    `json:"avg_records_per_file"`
		TotalProcessingTimeSecs string    `json:"total_processing_time_secs"`
		TotalFileSizeBytes      int64     `json:"total_file_size_bytes"`
		AvgFileSizeBytes        string    `json:"avg_file_size_bytes"`
	}

	out := make([]point, 0, 64)
	for rs.Next() {
		var p point
		if err := rs.Scan(&p.StatsDate, &p.Exchange, &p.TotalFiles, &p.SuccessfulFiles, &p.FailedFiles,
			&p.TotalRecords, &p.AvgRecordsPerFile, &p.TotalProcessingTimeSecs, &p.TotalFileSizeBytes, &p.AvgFileSizeBytes); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, p)
	}
	if err := rs.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := fmt.Sscanf(v, "%d", &limit); err != nil || n != 1 {
			limit = 50
		}
	}

	rs, closeRows, err := s.query(ctx, `
		SELECT exchange, data_date, file_path, start_time, end_time, error_message
		FROM gold.progress_records
		WHERE status = 'failed'
		ORDER BY end_time DESC
		LIMIT ?
	`, []any{limit}, `
		SELECT exchange, data_date, file_path, start_time, end_time, error_message
		FROM progress_records
		WHERE status = 'failed'
		ORDER BY end_time DESC
		LIMIT $1
	`, []any{limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer closeRows()

	type failure struct {
		Exchange     string     `json:"exchange"`
		DataDate     time.Time  `json:"data_date"`
		FilePath     string     `json:"file_path"`
		StartTime    time.Time  `json:"start_time"`
		EndTime      *time.Time `json:"end_time"`
		ErrorMessage *string    `json:"error_message"`
	}

	out := make([]failure, 0, limit)
	for rs.Next() {
		var f failure
		if err := rs.Scan(&f.Exchange, &f.DataDate, &f.FilePath, &f.StartTime, &f.EndTime, &f.ErrorMessage); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, f)
	}
	if err := rs.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	daily, err := s.recentRows(ctx,
		`SELECT stats_date, exchange, total_files, successful_files, failed_files, total_records, avg_records_per_file
		 FROM gold.daily_statistics ORDER BY stats_date DESC, exchange LIMIT 50`,
		`SELECT stats_date, exchange, total_files, successful_files, failed_files, total_records, avg_records_per_file
		 FROM daily_statistics ORDER BY stats_date DESC, exchange LIMIT 50`,
		[]string{"stats_date", "exchange", "total_files", "successful_files", "failed_files", "total_records", "avg_records_per_file"})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	weekly, err := s.recentRows(ctx,
		`SELECT week_ending, exchange, total_files, successful_files, failed_files, total_records, avg_daily_records
		 FROM gold.weekly_statistics ORDER BY week_ending DESC, exchange LIMIT 50`,
		`SELECT week_ending, exchange, total_files, successful_files, failed_files, total_records, avg_daily_records
		 FROM weekly_statistics ORDER BY week_ending DESC, exchange LIMIT 50`,
		[]string{"week_ending", "exchange", "total_files", "successful_files", "failed_files", "total_records", "avg_daily_records"})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, map[string]any{"daily": daily, "weekly": weekly, "read_source": s.readSourceName()})
}

// recentRows runs query and decodes every row into a column-name-keyed map.
// The DuckDB path discovers its own column names via *sql.Rows.Columns();
// pgx.Rows exposes the same information through FieldDescriptions rather
// than a Columns method, so the Postgres fallback path is given its column
// names explicitly (cols) instead.
func (s *Server) recentRows(ctx context.Context, duckSQL, pgSQL string, cols []string) ([]map[string]any, error) {
	if s.store != nil {
		sqlRows, err := s.store.Query(ctx, duckSQL)
		if err != nil {
			return nil, err
		}
		defer sqlRows.Close()

		discovered, err := sqlRows.Columns()
		if err != nil {
			return nil, err
		}
		return scanRowsToMaps(sqlRows, discovered)
	}
	if s.remote != nil {
		pgRows, err := s.remote.Query(ctx, pgSQL)
		if err != nil {
			return nil, err
		}
		defer pgRows.Close()
		return scanRowsToMaps(pgRows, cols)
	}
	return nil, fmt.Errorf("monitor: no read source available: analytical store is locked by the job runner and the remote ledger mirror is disabled")
}

func scanRowsToMaps(rs rows, cols []string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, 50)
	for rs.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleControlShutdown(w http.ResponseWriter, r *http.Request) {
	if err := shutdown.CreateRendezvousFile(s.rendezvousPath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]bool{"shutdown_requested": true})
}

func (s *Server) handleControlResume(w http.ResponseWriter, r *http.Request) {
	if err := shutdown.RemoveRendezvousFile(s.rendezvousPath); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]bool{"shutdown_requested": false})
}
