package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ecolex.org/internal/audit"
	"ecolex.org/internal/auth"
	"ecolex.org/internal/compliance"
	"ecolex.org/internal/obs"
	"ecolex.org/internal/stream"
)

const (
	maxJSONBytes    = 1 << 20
	maxRequestBytes = 64 << 20
)

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config collects the collaborators of the HTTP layer.
type Config struct {
	Service *compliance.Service
	Stream  *stream.Stream
	Ready   ReadyProbe
	// Uploads serves stored files under /uploads; nil when the blob backend
	// hands out its own URLs.
	Uploads http.Handler

	Version     string
	Environment string
	// Development exposes internal error messages to clients.
	Development bool

	RateBurst   int
	RatePerSec  float64
	CORSOrigins []string
	Logger      *slog.Logger
	// Auth, when set, requires an editor token on every write under /api.
	Auth *auth.Signer
}

// API is the REST surface.
type API struct {
	svc     *compliance.Service
	stream  *stream.Stream
	ready   ReadyProbe
	uploads http.Handler

	version     string
	environment string
	development bool
	rateBurst   int
	ratePerSec  float64
	origins     []string
	logger      *slog.Logger
	auth        *auth.Signer
	started     time.Time
}

func New(cfg Config) *API {
	a := &API{
		svc:         cfg.Service,
		stream:      cfg.Stream,
		ready:       cfg.Ready,
		uploads:     cfg.Uploads,
		version:     cfg.Version,
		environment: cfg.Environment,
		development: cfg.Development,
		rateBurst:   cfg.RateBurst,
		ratePerSec:  cfg.RatePerSec,
		origins:     cfg.CORSOrigins,
		logger:      cfg.Logger,
		auth:        cfg.Auth,
		started:     time.Now(),
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.environment == "" {
		a.environment = "development"
	}
	return a
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON(a.logger),
		SecurityHeaders,
		CORS(a.origins),
		RateLimit(a.rateBurst, a.ratePerSec),
		MaxBodyBytes(maxRequestBytes),
		a.withAuth,
		obs.Instrument,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/", a.Info)
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/api/health", a.Health)
	r.Handle("/metrics", obs.Handler())
	if a.uploads != nil {
		r.Handle("/uploads/*", a.uploads)
	}

	r.Route("/api/leis", func(r chi.Router) {
		r.Post("/", a.createLaw)
		r.Get("/", a.listLaws)
		r.Get("/{id}", a.getLaw)
		r.Get("/{id}/temas", a.listLawThemes)
		r.Put("/{id}", a.updateLaw)
		r.Delete("/{id}", a.deleteLaw)
	})
	r.Route("/api/temas", func(r chi.Router) {
		r.Post("/", a.createTheme)
		r.Get("/", a.listThemes)
		r.Get("/sem-lei", a.listUnlinkedThemes)
		r.Get("/lei/{id}", a.listLawThemes)
		r.Get("/{id}", a.getTheme)
		r.Put("/{id}", a.renameTheme)
		r.Delete("/{id}", a.deleteTheme)
	})
	r.Route("/api/requisitos", func(r chi.Router) {
		r.Post("/", a.createRequirement)
		r.Get("/", a.listRequirements)
		r.Get("/tema/{temaId}", a.listRequirementsByTheme)
		r.Get("/{id}", a.getRequirement)
		r.Put("/{id}", a.updateRequirement)
		r.Delete("/{id}", a.deleteRequirement)
	})
	r.Route("/api/projetos", func(r chi.Router) {
		r.Post("/", a.createProject)
		r.Get("/", a.listProjects)
		r.Get("/eventos", a.Stream)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getProject)
			r.Put("/", a.updateProject)
			r.Delete("/", a.deleteProject)
			r.Post("/temas", a.attachTheme)
			r.Route("/temas/{temaId}/requisitos", func(r chi.Router) {
				r.Get("/", a.listThemeInstanceRequirements)
				r.Post("/", a.addRequirement)
				r.Put("/{reqId}", a.updateRequirementStatus)
				r.Post("/{reqId}/evidencias", a.recordEvidence)
				r.Put("/{reqId}/evidencia", a.updateEvidence)
				r.Post("/{reqId}/anexos", a.addAttachments)
				r.Get("/{reqId}/anexos/{index}/download", a.downloadAttachment)
			})
		})
	})
	return r
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ecolex-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  a.redact(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Health reports process and database state in one document.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	db := "memory"
	status, code := "ok", http.StatusOK
	if a.ready.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Check(ctx); err != nil {
			a.logger.WarnContext(r.Context(), "health check failed", "error", err)
			db, status, code = "disconnected", "degraded", http.StatusServiceUnavailable
		} else {
			db = "connected"
		}
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime":      time.Since(a.started).Seconds(),
		"environment": a.environment,
		"database":    db,
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "ecolex-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"endpoints": []string{
			"/api/leis", "/api/temas", "/api/requisitos", "/api/projetos", "/api/health",
		},
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// fail translates err to a status code, logs it, and writes the error body.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ce      *compliance.Error
		tooBig  *http.MaxBytesError
		code    int
		message string
	)
	switch {
	case errors.As(err, &tooBig):
		code, message = http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, compliance.ErrValidation):
		code, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, compliance.ErrNotFound):
		code, message = http.StatusNotFound, err.Error()
	case errors.Is(err, compliance.ErrConflict):
		code, message = http.StatusConflict, err.Error()
	default:
		code, message = http.StatusInternalServerError, a.redact(err)
	}
	if errors.As(err, &ce) {
		message = ce.Message
	}
	level := slog.LevelInfo
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	a.logger.Log(r.Context(), level, "request failed",
		"request_id", audit.RequestIDFromContext(r.Context()),
		"route", obs.RoutePattern(r),
		"status", code,
		"error", err.Error(),
	)
	writeError(w, r, code, message)
}

func (a *API) redact(err error) string {
	if a.development {
		return err.Error()
	}
	return "internal error"
}

// badRequest reports a malformed request before it reaches the service.
func badRequest(msg string) error {
	return &compliance.Error{Kind: compliance.ErrValidation, Message: msg}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return err
		case errors.Is(err, io.EOF):
			return badRequest("request body is required")
		default:
			return badRequest("invalid JSON body: " + err.Error())
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return badRequest("unexpected data after JSON body")
	}
	return nil
}

// auditEvent records a committed mutation. Failures only reach the log.
func (a *API) auditEvent(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		a.logger.WarnContext(r.Context(), "audit log failed", "event", event, "error", err)
	}
}
