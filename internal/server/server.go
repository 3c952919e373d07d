// Package server exposes the metadata graph of the active connection over
// HTTP.
package server

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"dbmeta/internal/cache"
	"dbmeta/internal/db"
	"dbmeta/internal/introspect"
	"dbmeta/internal/logger"
	"dbmeta/internal/metrics"
	"dbmeta/internal/navigator"
	"dbmeta/pkg/config"
)

// Options tune the server.
type Options struct {
	// ConnectTimeout bounds opening and pinging a database.
	ConnectTimeout time.Duration
	// QueryTimeout bounds every API request that reads the catalog. Zero
	// means no limit beyond the client's.
	QueryTimeout time.Duration
	// WebDir is served at the root when set.
	WebDir string
	// Settings are handed to every catalog the server opens.
	Settings db.Settings
	// Prefetch loads the whole structure after connecting, with
	// PrefetchWorkers parallel schemas.
	Prefetch        bool
	PrefetchWorkers int
	// Gatherer backs /metrics when set.
	Gatherer prometheus.Gatherer
}

// Server owns the active connection.
type Server struct {
	opts Options

	mu     sync.RWMutex
	dbCfg  config.DBConfig
	active *lease
}

// lease counts the requests still using one connection. A replaced
// connection is closed once the last of them is done.
type lease struct {
	conn  *db.Connection
	inUse sync.WaitGroup
}

func (l *lease) retire() error {
	l.inUse.Wait()
	return l.conn.Close()
}

// New returns a server without an active connection. dbCfg is what
// /api/getConnect reports until a connection is made.
func New(dbCfg config.DBConfig, opts Options) *Server {
	opts.ConnectTimeout = cmp.Or(opts.ConnectTimeout, 10*time.Second)
	return &Server{opts: opts, dbCfg: dbCfg}
}

// Connect opens driver/dsn and makes it the active connection, closing the
// previous one.
func (s *Server) Connect(ctx context.Context, driver, dsn string) (*db.Connection, error) {
	conn, err := db.Connect(ctx, driver, dsn, s.opts.ConnectTimeout, s.opts.Settings)
	if err != nil {
		return nil, err
	}
	if s.opts.Prefetch {
		start := time.Now()
		if err := conn.Catalog.Prefetch(ctx, s.opts.PrefetchWorkers); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "prefetch")
		}
		logger.Info("prefetched %s catalog in %v", conn.Driver, time.Since(start))
	}

	s.mu.Lock()
	old := s.active
	s.active = &lease{conn: conn}
	s.mu.Unlock()
	if old != nil {
		go func() {
			if err := old.retire(); err != nil {
				logger.Warn("close previous connection: %v", err)
			}
		}()
	}
	return conn, nil
}

// Close releases the active connection after the requests using it finish.
func (s *Server) Close() error {
	s.mu.Lock()
	old := s.active
	s.active = nil
	s.mu.Unlock()
	if old == nil {
		return nil
	}
	return old.retire()
}

// acquire returns the active catalog and a func to call once the request is
// done with it. The catalog is nil without an active connection.
func (s *Server) acquire() (db.Catalog, func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, func() {}
	}
	l := s.active
	l.inUse.Add(1)
	return l.conn.Catalog, l.inUse.Done
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/getConnect", s.getConnect)
		r.Post("/connect", s.connect)
		r.Group(func(r chi.Router) {
			r.Use(s.withCatalog)
			r.Get("/schema", s.schema)
			r.Get("/tree", s.tree)
			r.Get("/tree/*", s.tree)
			r.Post("/refresh", s.refresh)
			r.Post("/refresh/*", s.refresh)
			r.Get("/source/*", s.source)
		})
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.opts.Gatherer))
	}
	if s.opts.WebDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.opts.WebDir)))
	}
	return r
}

type catalogKey struct{}

// withCatalog rejects requests without an active connection and applies the
// query timeout.
func (s *Server) withCatalog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cat, release := s.acquire()
		defer release()
		if cat == nil {
			http.Error(w, "no active connection; POST /api/connect to create one", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), catalogKey{}, cat)
		if s.opts.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
			defer cancel()
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func catalogFrom(ctx context.Context) db.Catalog {
	return ctx.Value(catalogKey{}).(db.Catalog)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response: %v", err)
	}
}

// writeError maps navigator and cache errors to status codes.
func writeError(w http.ResponseWriter, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, navigator.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, navigator.ErrUnsupported):
		code = http.StatusBadRequest
	case cache.IsCanceled(err):
		code = http.StatusServiceUnavailable
	default:
		logger.Error("%s: %v", msg, err)
	}
	http.Error(w, msg+": "+err.Error(), code)
}

func (s *Server) getConnect(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	cfg := s.dbCfg
	s.mu.RUnlock()
	cfg.Type = config.NormalizeDriver(cfg.Type)
	writeJSON(w, struct {
		OK     bool            `json:"ok"`
		Config config.DBConfig `json:"config"`
	}{OK: true, Config: cfg})
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	var req config.DBConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	driver, dsn, err := config.BuildDriverAndDSN(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := s.Connect(r.Context(), driver, dsn)
	if err != nil {
		writeError(w, "connection failed", err)
		return
	}
	s.mu.Lock()
	s.dbCfg = req
	s.mu.Unlock()

	schema, err := conn.Catalog.Extract(r.Context())
	if err != nil {
		writeError(w, "failed to extract schema", err)
		return
	}
	writeJSON(w, struct {
		OK     bool              `json:"ok"`
		Schema introspect.Schema `json:"schema"`
	}{OK: true, Schema: schema})
}

func (s *Server) schema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cat := catalogFrom(ctx)
	if r.URL.Query().Get("refresh") == "1" {
		if err := cat.Refresh(ctx); err != nil {
			writeError(w, "refresh failed", err)
			return
		}
	}
	schema, err := cat.Extract(ctx)
	if err != nil {
		writeError(w, "failed to extract schema", err)
		return
	}
	writeJSON(w, schema)
}

func resolve(r *http.Request) (navigator.Node, error) {
	ctx := r.Context()
	return navigator.Resolve(ctx, catalogFrom(ctx).Root(), chi.URLParam(r, "*"))
}

func (s *Server) tree(w http.ResponseWriter, r *http.Request) {
	depth := 1
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 {
			http.Error(w, "invalid depth: "+v, http.StatusBadRequest)
			return
		}
		depth = d
	}
	n, err := resolve(r)
	if err != nil {
		writeError(w, "resolve", err)
		return
	}
	info, err := navigator.Describe(r.Context(), n, depth)
	if err != nil {
		writeError(w, "describe", err)
		return
	}
	writeJSON(w, info)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	n, err := resolve(r)
	if err != nil {
		writeError(w, "resolve", err)
		return
	}
	if err := n.Refresh(r.Context()); err != nil {
		writeError(w, "refresh", err)
		return
	}
	writeJSON(w, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

func (s *Server) source(w http.ResponseWriter, r *http.Request) {
	n, err := resolve(r)
	if err != nil {
		writeError(w, "resolve", err)
		return
	}
	text, err := n.Source(r.Context())
	if err != nil {
		writeError(w, "source", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}
