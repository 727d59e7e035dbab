// Package ops serves the operational HTTP surface: health, metrics and read-only guild views.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sentinel-guard/internal/analytics"
	"sentinel-guard/internal/detection"
	"sentinel-guard/internal/guildconfig"
	"sentinel-guard/internal/playbook"
	"sentinel-guard/internal/storage"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultReportHours = 24
	maxReportHours     = 24 * 90
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// ConfigReader only sees guilds that already have a document.
type ConfigReader interface {
	Peek(guildID string) (map[string]any, bool)
}

type Reporter interface {
	Report(ctx context.Context, guildID string, since time.Time) (analytics.Report, error)
}

type Lockdowns interface {
	IsLockdown(guildID string) playbook.State
}

type Infractions interface {
	GetInfraction(ctx context.Context, guildID, userID, category string) (storage.UserInfraction, error)
}

// Deps are the components the server reads from. Everything but Configs may be nil.
type Deps struct {
	Configs     ConfigReader
	Reporter    Reporter
	Lockdowns   Lockdowns
	Infractions Infractions
	Pinger      Pinger
}

type Server struct {
	Router chi.Router
	deps   Deps
	log    *zap.Logger
	now    func() time.Time
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, log: logger, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/guilds/{guildID}", func(g chi.Router) {
		g.Use(validGuild)
		g.Get("/config", s.guildConfig)
		g.Get("/report", s.guildReport)
		g.Get("/lockdown", s.guildLockdown)
		g.Get("/users/{userID}/infractions", s.userInfractions)
	})
	s.Router = r
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ops server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pinger != nil {
		if err := s.deps.Pinger.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) guildConfig(w http.ResponseWriter, r *http.Request) {
	tree, ok := s.deps.Configs.Peek(chi.URLParam(r, "guildID"))
	if !ok {
		writeError(w, http.StatusNotFound, "guild not found")
		return
	}
	if path := r.URL.Query().Get("path"); path != "" {
		value, ok := guildconfig.Lookup(tree, path)
		if !ok {
			writeError(w, http.StatusNotFound, "setting not found")
			return
		}
		writeJSON(w, map[string]any{"path": path, "value": value})
		return
	}
	writeJSON(w, tree)
}

func (s *Server) guildReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reporter == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	hours := defaultReportHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxReportHours {
			writeError(w, http.StatusBadRequest, "hours must be between 1 and 2160")
			return
		}
		hours = parsed
	}

	guildID := chi.URLParam(r, "guildID")
	report, err := s.deps.Reporter.Report(r.Context(), guildID, s.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		if errors.Is(err, analytics.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "audit store not configured")
			return
		}
		s.log.Error("build report", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, report)
}

func (s *Server) guildLockdown(w http.ResponseWriter, r *http.Request) {
	if s.deps.Lockdowns == nil {
		writeJSON(w, lockdownResponse{})
		return
	}
	state := s.deps.Lockdowns.IsLockdown(chi.URLParam(r, "guildID"))
	resp := lockdownResponse{Lockdown: state.Lockdown}
	if state.Lockdown {
		since, until := state.Since, state.Until
		resp.Since, resp.Until = &since, &until
	}
	writeJSON(w, resp)
}

var infractionCategories = []detection.Kind{detection.KindBot, detection.KindSpam}

func (s *Server) userInfractions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Infractions == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	guildID, userID := chi.URLParam(r, "guildID"), chi.URLParam(r, "userID")
	if !guildconfig.ValidGuildID(userID) {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	resp := infractionsResponse{GuildID: guildID, UserID: userID, Categories: make(map[string]infractionEntry)}
	for _, kind := range infractionCategories {
		inf, err := s.deps.Infractions.GetInfraction(r.Context(), guildID, userID, string(kind))
		if err != nil {
			s.log.Error("load infraction", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load infractions")
			return
		}
		if inf.CountTotal == 0 {
			continue
		}
		entry := infractionEntry{Count: inf.CountTotal, LastAction: inf.LastAction, LastAt: inf.LastAt, ResetAt: inf.ResetAt}
		resp.Categories[string(kind)] = entry
	}
	writeJSON(w, resp)
}

type infractionEntry struct {
	Count      int        `json:"count"`
	LastAction string     `json:"last_action"`
	LastAt     time.Time  `json:"last_at"`
	ResetAt    *time.Time `json:"reset_at,omitempty"`
}

type infractionsResponse struct {
	GuildID    string                     `json:"guild_id"`
	UserID     string                     `json:"user_id"`
	Categories map[string]infractionEntry `json:"categories"`
}

type lockdownResponse struct {
	Lockdown bool       `json:"lockdown"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func validGuild(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !guildconfig.ValidGuildID(chi.URLParam(r, "guildID")) {
			writeError(w, http.StatusBadRequest, "invalid guild id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
