// Package httpapi implements the HTTP front end of spec §4.7: routing,
// admission control, version resolution, password protection, and
// streamed query responses.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/redbco/ddfserver/internal/assets"
	"github.com/redbco/ddfserver/internal/catalog"
	"github.com/redbco/ddfserver/internal/schema"
	"github.com/redbco/ddfserver/pkg/admission"
	"github.com/redbco/ddfserver/pkg/config"
	"github.com/redbco/ddfserver/pkg/dbpool"
	"github.com/redbco/ddfserver/pkg/logger"
)

// Server wires the catalog, schema cache, connection pool, admission
// controller and asset store behind a gorilla/mux router.
type Server struct {
	router     *mux.Router
	catalog    *catalog.Catalog
	pool       *dbpool.Pool
	schemas    *schema.Cache
	admission  *admission.Controller
	assets     assets.Store
	logger     *logger.Logger
	cacheAllow bool
	ioToken    string
}

// New builds the Server and registers every route of spec §4.7/§6.
func New(cat *catalog.Catalog, pool *dbpool.Pool, schemas *schema.Cache, adm *admission.Controller, store assets.Store, log *logger.Logger, cfg *config.Config) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		catalog:    cat,
		pool:       pool,
		schemas:    schemas,
		admission:  adm,
		assets:     store,
		logger:     log,
		cacheAllow: cfg.Bool("CACHE_ALLOW"),
		ioToken:    cfg.Get("LOADER_IO_TOKEN"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.admissionMiddleware)
}

// admissionMiddleware implements spec §4.7's "before routing, check two
// counters" gate, rejecting with 503 before any handler runs.
func (s *Server) admissionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.admission.Admit() {
			http.Error(w, "service temporarily overloaded", http.StatusServiceUnavailable)
			return
		}
		s.admission.TrackRequest()
		defer s.admission.UntrackRequest()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/ddf-service-directory", s.handleDirectory).Methods(http.MethodGet)
	if s.ioToken != "" {
		s.router.HandleFunc("/"+s.ioToken+".txt", s.handleIOToken).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/{name}/{version}/assets/{asset}", s.handleAsset).Methods(http.MethodGet)
	s.router.HandleFunc("/{name}/assets/{asset}", s.handleAssetNoVersion).Methods(http.MethodGet)
	s.router.HandleFunc("/{name}/{version}", s.handleQuery).Methods(http.MethodGet)
	s.router.HandleFunc("/{name}", s.handleQueryNoVersion).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
