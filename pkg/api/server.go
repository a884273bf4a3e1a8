package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/vjranagit/seriesstore/internal/logging"
	"github.com/vjranagit/seriesstore/pkg/catalog"
	"github.com/vjranagit/seriesstore/pkg/ingest"
	"github.com/vjranagit/seriesstore/pkg/refresh"
	"github.com/vjranagit/seriesstore/pkg/series"
	"github.com/vjranagit/seriesstore/pkg/types"
)

// maxBody bounds upsert payloads
const maxBody = 8 << 20

// Refresher forces a refresh of one series
type Refresher interface {
	ForceRefresh(ctx context.Context, name string) (refresh.Result, error)
}

// Server implements the HTTP API server
type Server struct {
	cat       *catalog.Catalog
	refresher Refresher
	saver     refresh.Saver
	addr      string
	timeout   time.Duration
	log       *slog.Logger
	server    *http.Server
}

// NewServer creates a new API server
func NewServer(addr string, timeout time.Duration, cat *catalog.Catalog, refresher Refresher, saver refresh.Saver) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		cat:       cat,
		refresher: refresher,
		saver:     saver,
		addr:      addr,
		timeout:   timeout,
		log:       logging.Component("api"),
	}
}

// Handler returns the routes of the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/series", s.handleList)
	mux.HandleFunc("GET /api/v1/series/{name}", s.handleInfo)
	mux.HandleFunc("GET /api/v1/series/{name}/records", s.handleRange)
	mux.HandleFunc("POST /api/v1/series/{name}/records", s.handleUpsert)
	mux.HandleFunc("GET /api/v1/series/{name}/records/{key}", s.handleGet)
	mux.HandleFunc("GET /api/v1/series/{name}/records/{key}/next", s.handleNeighbour)
	mux.HandleFunc("GET /api/v1/series/{name}/records/{key}/previous", s.handleNeighbour)
	mux.HandleFunc("GET /api/v1/series/{name}/export", s.handleExport)
	mux.HandleFunc("POST /api/v1/series/{name}/refresh", s.handleRefresh)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// lookup resolves the {name} path value, answering 404 itself
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*series.Series, bool) {
	sr, err := s.cat.Lookup(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return nil, false
	}
	return sr, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cat.AllInfo())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.cat.Info(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	row, found := sr.Get(key)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("no record at %s", key))
		return
	}
	writeJSON(w, http.StatusOK, types.Record{Key: key, Row: row})
}

// handleRange answers ?start=&end=; both bounds must be existing keys
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	sr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	start, end := r.URL.Query().Get("start"), r.URL.Query().Get("end")
	if start == "" || end == "" {
		writeError(w, http.StatusBadRequest, errors.New("start and end are required"))
		return
	}
	records := sr.Range(start, end)
	if records == nil {
		records = []types.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleNeighbour(w http.ResponseWriter, r *http.Request) {
	sr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	next := sr.Next
	if strings.HasSuffix(r.URL.Path, "/previous") {
		next = sr.Previous
	}
	neighbour, found := next(key)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("no neighbour for %s", key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": neighbour})
}

// handleUpsert accepts one record or an array of records
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var records []types.Record
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &records)
	} else {
		var rec types.Record
		err = json.Unmarshal(body, &rec)
		records = []types.Record{rec}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	for _, rec := range records {
		if rec.Key == "" {
			writeError(w, http.StatusBadRequest, errors.New("record key is required"))
			return
		}
	}

	var inserted, updated int
	err = s.cat.Exclusive(name, func(cur *series.Series, _ catalog.Definition, _ catalog.Replacer) error {
		for i, rec := range records {
			row, err := cur.Conform(rec.Row)
			if err != nil {
				return fmt.Errorf("record %s: %w", rec.Key, err)
			}
			records[i].Row = row
		}
		inserted, updated = cur.UpsertBatch(records)
		// memory stays authoritative when the save fails
		_ = s.saver.Save(r.Context(), cur)
		return nil
	})
	if errors.Is(err, series.ErrKindMismatch) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	s.log.Debug("records upserted", "series", name, "inserted", inserted, "updated", updated)
	writeJSON(w, http.StatusOK, map[string]int{"inserted": inserted, "updated": updated})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sr, ok := s.lookup(w, r)
	if !ok {
		return
	}
	delim := ','
	if r.URL.Query().Get("delimiter") == ";" {
		delim = ';'
	}
	var buf bytes.Buffer
	if err := ingest.Write(&buf, sr, delim); err != nil {
		s.log.Warn("export failed", "series", sr.Name(), "error", err)
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Write(buf.Bytes())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.refresher.ForceRefresh(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	out := map[string]any{"result": res}
	if res.Err != nil {
		out["error"] = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"series": len(s.cat.Names()),
	})
}

// handleMetrics exports per-series gauges in the Prometheus text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	all := s.cat.AllInfo()

	fmt.Fprintf(w, "# HELP seriesstore_records Number of records held per series.\n")
	fmt.Fprintf(w, "# TYPE seriesstore_records gauge\n")
	for _, name := range s.cat.Names() {
		fmt.Fprintf(w, "seriesstore_records{series=%q} %d\n", name, all[name].TotalRecords)
	}

	fmt.Fprintf(w, "# HELP seriesstore_last_refreshed_seconds Unix time of the last ingestion or merge.\n")
	fmt.Fprintf(w, "# TYPE seriesstore_last_refreshed_seconds gauge\n")
	for _, name := range s.cat.Names() {
		if t := all[name].LastRefreshed; t != nil {
			fmt.Fprintf(w, "seriesstore_last_refreshed_seconds{series=%q} %d\n", name, t.Unix())
		}
	}
}
