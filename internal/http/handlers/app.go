package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"jobengine/internal/domain"
	"jobengine/internal/engine"
	"jobengine/internal/events"
	"jobengine/internal/middleware"
	"jobengine/internal/query"
)

const maxBodyBytes = 1 << 20

// ArtifactReader loads artifact bytes persisted for a job.
type ArtifactReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Deps wires the handlers to the engine and its read side.
type Deps struct {
	Engine         *engine.Engine
	Facade         *query.Facade
	Hub            *events.Hub
	Artifacts      ArtifactReader
	CallbackSecret string
	AllowedOrigins []string
	Logger         zerolog.Logger
}

type App struct {
	engine         *engine.Engine
	facade         *query.Facade
	hub            *events.Hub
	artifacts      ArtifactReader
	callbackSecret string
	logger         zerolog.Logger
	upgrader       websocket.Upgrader
}

func NewApp(deps Deps) *App {
	return &App{
		engine:         deps.Engine,
		facade:         deps.Facade,
		hub:            deps.Hub,
		artifacts:      deps.Artifacts,
		callbackSecret: deps.CallbackSecret,
		logger:         deps.Logger.With().Str("component", "http").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(deps.AllowedOrigins),
		},
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps domain errors onto the HTTP error envelope. Anything unexpected is
// logged and reported as an opaque 500.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, errorBody{Error: errorDetail{
			Code:    "invalid_input",
			Message: verr.Message,
			Field:   verr.Field,
		}})
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "invalid_input", "invalid input")
	case errors.Is(err, domain.ErrInsufficientCredit):
		a.error(w, http.StatusPaymentRequired, "insufficient_credit", "not enough credit")
	case errors.Is(err, domain.ErrAccountNotFound):
		a.error(w, http.StatusNotFound, "account_not_found", "credit account not found")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrNotRetryable):
		a.error(w, http.StatusConflict, "not_retryable", "only failed or rejected jobs can be retried")
	case errors.Is(err, domain.ErrCapacityExhausted):
		a.error(w, http.StatusServiceUnavailable, "capacity_exhausted", "too many jobs in flight, try again later")
	default:
		a.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads a bounded JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "malformed JSON"}
	}
	return nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
