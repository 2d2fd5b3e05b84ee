// Package admin implements gonatd's HTTP+JSON control surface: listing
// active mappings, showing effective configuration, and triggering a
// manual eviction sweep (SPEC_FULL §12). The teacher's RPC server
// (internal/server) is built on ConnectRPC against a generated protobuf
// schema; this module has no generated schema to target, so it keeps the
// teacher's "thin adapter over a domain manager" shape but speaks plain
// JSON over net/http instead.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dantte-lp/gonat/internal/config"
	"github.com/dantte-lp/gonat/internal/nat"
)

// Server is a thin adapter between the HTTP control surface and the NAT
// table; each handler delegates to Table for actual state.
type Server struct {
	table  *nat.Table
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a Server backed by table and cfg; Handler returns the mux
// it should be served on.
func New(table *nat.Table, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		table:  table,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "admin")),
	}
}

// Handler builds the HTTP mux for the admin surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/mappings", s.handleListMappings)
	mux.HandleFunc("GET /v1/config", s.handleShowConfig)
	mux.HandleFunc("POST /v1/sweep", s.handleSweep)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// -------------------------------------------------------------------------
// Wire types
// -------------------------------------------------------------------------

// MappingView is the JSON representation of one active flow mapping.
type MappingView struct {
	Protocol  string `json:"protocol"`
	InIface   string `json:"in_interface"`
	OutIface  string `json:"out_interface"`
	InsideSrc string `json:"inside_src"`
	InsideDst string `json:"inside_dst"`
	OutsideSrc string `json:"outside_src"`
	OutsideDst string `json:"outside_dst"`
	IdleFor   string `json:"idle_for"`
}

// MappingsResponse wraps the mapping list with the total count, so callers
// don't need len(mappings) to know whether the table is empty vs. the
// listing failed.
type MappingsResponse struct {
	Mappings []MappingView `json:"mappings"`
	Count    int           `json:"count"`
}

// SweepResponse reports how many entries a manual sweep evicted.
type SweepResponse struct {
	Evicted int `json:"evicted"`
}

// -------------------------------------------------------------------------
// Handlers
// -------------------------------------------------------------------------

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	snaps := s.table.Snapshot()

	views := make([]MappingView, 0, len(snaps))
	for _, e := range snaps {
		views = append(views, MappingView{
			Protocol:   e.Protocol.String(),
			InIface:    e.InIface,
			OutIface:   e.OutIface,
			InsideSrc:  e.Inside.SrcIP.String(),
			InsideDst:  e.Inside.DstIP.String(),
			OutsideSrc: e.Outside.SrcIP.String(),
			OutsideDst: e.Outside.DstIP.String(),
			IdleFor:    e.IdleSince.Round(time.Second).String(),
		})
	}

	s.writeJSON(w, r, http.StatusOK, MappingsResponse{Mappings: views, Count: len(views)})
}

func (s *Server) handleShowConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.cfg)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	evicted := s.table.Sweep()
	s.logger.InfoContext(r.Context(), "manual sweep triggered", slog.Int("evicted", evicted))
	s.writeJSON(w, r, http.StatusOK, SweepResponse{Evicted: evicted})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "encode response", slog.Any("error", err))
	}
}
