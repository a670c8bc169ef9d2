// @title TrustGate Token Security API
// @version 1.0.0
// @description Signing key lifecycle, token lifetime policy and refresh token reuse protection

// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /admin/api/v1

// @securityDefinitions.apikey AdminToken
// @in header
// @name Authorization

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trustgate/trustgate/internal/incident"
	"github.com/trustgate/trustgate/internal/keyring"
	"github.com/trustgate/trustgate/internal/observability/logger"
	"github.com/trustgate/trustgate/internal/policy"
	"github.com/trustgate/trustgate/internal/rotation"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	jwks             *keyring.Publisher
	rotationPolicies *policy.RotationPolicyService
	tokenPolicies    *policy.TokenPolicyService
	coordinator      *rotation.Coordinator
	incidents        *incident.Service

	adminToken string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	jwks *keyring.Publisher,
	rotationPolicies *policy.RotationPolicyService,
	tokenPolicies *policy.TokenPolicyService,
	coordinator *rotation.Coordinator,
	incidents *incident.Service,
	adminToken string,
) *Handler {
	return &Handler{
		jwks:             jwks,
		rotationPolicies: rotationPolicies,
		tokenPolicies:    tokenPolicies,
		coordinator:      coordinator,
		incidents:        incidents,
		adminToken:       adminToken,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Public key distribution (RFC 7517)
	r.Get("/jwks.json", h.JWKS)
	r.Get("/.well-known/jwks.json", h.JWKS)

	// Admin surface
	r.Route("/admin/api/v1", func(r chi.Router) {
		r.Use(h.AdminAuthMiddleware)

		r.Get("/policies/rotation", h.GetRotationPolicy)
		r.Put("/policies/rotation", h.UpdateRotationPolicy)

		r.Get("/policies/token", h.GetTokenPolicy)
		r.Put("/policies/token", h.UpdateTokenPolicy)

		r.Post("/keys/rotate", h.RotateKeys)

		r.Get("/incidents", h.ListIncidents)
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "trustgate",
	})
}

// JWKS publishes the verification key set
// @Summary JSON Web Key Set
// @Description Public keys for token verification: the Active and Previous keys only
// @Tags Keys
// @Produce json
// @Success 200 {object} keyring.JWKS
// @Router /jwks.json [get]
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	keySet, err := h.jwks.KeySet(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to build key set", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to build key set")
		return
	}

	// Cache lifetime follows the policy's JWKS margin: relying parties
	// must observe a rotation before the demoted key's grace runs out.
	margin := 5 * time.Minute
	if pol, err := h.rotationPolicies.Get(r.Context()); err == nil {
		margin = pol.JWKSCacheMargin()
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(margin.Seconds())))

	respondJSON(w, http.StatusOK, keySet)
}

// RotateKeysResponse reports a completed operator rotation
type RotateKeysResponse struct {
	Rotated     bool   `json:"rotated"`
	Initialized bool   `json:"initialized"`
	NewKid      string `json:"new_kid"`
	PreviousKid string `json:"previous_kid,omitempty"`
}

// RotateKeys forces an immediate ring rotation
// @Summary Rotate Signing Keys
// @Description Force an immediate rotation regardless of schedule
// @Tags Keys
// @Produce json
// @Security AdminToken
// @Success 200 {object} RotateKeysResponse
// @Failure 500 {object} map[string]string
// @Router /keys/rotate [post]
func (h *Handler) RotateKeys(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.coordinator.RotateIfDue(r.Context(), rotation.TriggerOperator)
	if err != nil {
		slog.ErrorContext(r.Context(), "operator rotation failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "rotation failed")
		return
	}

	respondJSON(w, http.StatusOK, RotateKeysResponse{
		Rotated:     outcome.Rotated,
		Initialized: outcome.Initialized,
		NewKid:      outcome.NewKid,
		PreviousKid: outcome.PreviousKid,
	})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondPolicyError maps the shared policy error cases to status codes.
// Guardrail violations come back per-field so admin UIs can highlight
// the offending inputs.
func respondPolicyError(w http.ResponseWriter, err error) {
	var verr *policy.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "policy validation failed",
			"violations": verr.Violations,
		})
	case errors.Is(err, policy.ErrVersionConflict):
		respondError(w, http.StatusConflict, "policy was modified concurrently, reload and retry")
	case errors.Is(err, policy.ErrBreakGlassNeedsReason):
		respondError(w, http.StatusBadRequest, "break-glass override requires a reason")
	default:
		respondError(w, http.StatusInternalServerError, "failed to update policy")
	}
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
