package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/swarm2sqlite/internal/ingest"
	"github.com/elonfeng/swarm2sqlite/internal/store"
	"github.com/elonfeng/swarm2sqlite/pkg/checkin"
	"github.com/elonfeng/swarm2sqlite/pkg/source"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Syncer runs one incremental import.
type Syncer interface {
	Sync(ctx context.Context, src source.Source) (ingest.Result, error)
}

// Server provides the HTTP API.
type Server struct {
	store  store.Store
	syncer Syncer
	src    source.Source
	port   int
	log    *zap.Logger
}

// New creates a new HTTP server. src may be nil, in which case the sync
// endpoint reports that no source is configured.
func New(s store.Store, syncer Syncer, src source.Source, port int, log *zap.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:  s,
		syncer: syncer,
		src:    src,
		port:   port,
		log:    log,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/checkins", s.handleView(checkin.CheckinDetailsView, ""))
	mux.HandleFunc("/api/v1/venues", s.handleView(checkin.VenueDetailsView, `ORDER BY "count" DESC`))
	mux.HandleFunc("/api/v1/tables", s.handleTables)
	mux.HandleFunc("/api/v1/sync", s.handleSync)
	return mux
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleView(view, order string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}

		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		ctx := r.Context()
		views, err := s.store.ViewNames(ctx)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !contains(views, view) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []store.Row{}, "count": 0})
			return
		}

		rows, err := s.store.Query(ctx, fmt.Sprintf(`SELECT * FROM %q %s LIMIT ?`, view, order), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if rows == nil {
			rows = []store.Row{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"data":  rows,
			"count": len(rows),
		})
	}
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ctx := r.Context()
	names, err := s.store.TableNames(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type tableInfo struct {
		Name string `json:"name"`
		Rows int    `json:"rows"`
	}

	infos := make([]tableInfo, 0, len(names))
	for _, name := range names {
		n, err := s.store.Count(ctx, name)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		infos = append(infos, tableInfo{Name: name, Rows: n})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.src == nil || s.syncer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no check-in source configured"})
		return
	}

	res, err := s.syncer.Sync(r.Context(), s.src)
	if err != nil {
		s.log.Error("sync failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"imported": res.Imported, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": res.Imported})
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
