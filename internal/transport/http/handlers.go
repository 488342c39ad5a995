// Copyright 2026 The OrcaPro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/orcapro/identity/internal/identity"
	"github.com/orcapro/identity/internal/observability/logger"
	"github.com/orcapro/identity/internal/observability/metrics"
	"github.com/orcapro/identity/internal/tenant"
	"github.com/orcapro/identity/internal/tenantctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service

	signupCounter metric.Int64Counter
	loginCounter  metric.Int64Counter
}

// NewHandler creates a new HTTP handler
func NewHandler(identityService *identity.Service, meter *metrics.Meter) *Handler {
	h := &Handler{identityService: identityService}

	if meter != nil {
		h.signupCounter, _ = meter.CreateCounter("auth_signup_total", "Completed signup attempts")
		h.loginCounter, _ = meter.CreateCounter("auth_login_total", "Completed login attempts")
	}

	return h
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

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

	r.Get("/health", h.HealthCheck)

	// Signup creates the tenant, so it runs tenant-agnostic. Login needs
	// the tenant already resolved; TenantMiddleware binds it from the
	// header and RequireTenant fails closed without it.
	r.Post("/signup", h.Signup)
	r.With(TenantMiddleware, RequireTenant).Post("/login", h.Login)

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "orcapro-identity",
	})
}

// SignupRequest represents tenant provisioning data
type SignupRequest struct {
	TenantName string `json:"tenant_name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// Signup provisions a tenant together with its first administrator.
// No token is issued at signup; the admin logs in afterwards.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.identityService.Signup(r.Context(), req.TenantName, req.Email, req.Password)
	h.count(r, h.signupCounter)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrTenantExists):
			respondError(w, http.StatusConflict, "tenant already exists")
		case errors.Is(err, identity.ErrEmailTaken):
			respondError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, tenant.ErrInvalidName):
			respondError(w, http.StatusBadRequest, "invalid tenant name")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "signup failed",
				logger.Error(err),
				logger.Component("http"),
			)
			respondError(w, http.StatusInternalServerError, "failed to create tenant")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message":   "tenant and admin user created successfully",
		"tenant_id": created.ID,
	})
}

// LoginRequest represents login credentials. The tenant arrives in the
// X-Tenant-ID header, not the body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a user within the resolved tenant and returns a
// signed session token. Bad credentials of any kind produce the same 401.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenantID, err := tenantctx.From(r.Context())
	if err != nil {
		respondError(w, http.StatusBadRequest, TenantHeader+" header is required")
		return
	}

	signed, err := h.identityService.Login(r.Context(), tenantID, req.Email, req.Password)
	h.count(r, h.loginCounter)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		slog.ErrorContext(r.Context(), "login failed",
			logger.Error(err),
			logger.Component("http"),
		)
		respondError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"token": signed,
	})
}

func (h *Handler) count(r *http.Request, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(r.Context(), 1)
	}
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
