package routes

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/leadpilot-ai/platform/pkg/common/logger"
	"github.com/leadpilot-ai/platform/pkg/common/models"
	gatewayauth "github.com/leadpilot-ai/platform/pkg/gateway/auth"
	"github.com/leadpilot-ai/platform/pkg/gateway/middleware"
	"github.com/leadpilot-ai/platform/pkg/identity"
)

type AuthHandler struct {
	service     *identity.Service
	tokenSigner *gatewayauth.JWTManager
	oidc        *gatewayauth.OIDCAuthenticator
}

// NewAuthHandler builds the auth surface. oidc may be nil; the SSO routes
// are only mounted when a provider is configured.
func NewAuthHandler(service *identity.Service, tokenSigner *gatewayauth.JWTManager, oidc *gatewayauth.OIDCAuthenticator) *AuthHandler {
	return &AuthHandler{service: service, tokenSigner: tokenSigner, oidc: oidc}
}

func (h *AuthHandler) Register(r *mux.Router) {
	r.HandleFunc("/bootstrap", h.handleBootstrap).Methods(http.MethodPost)
	r.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	if h.oidc != nil {
		r.HandleFunc("/oidc/login", h.handleOIDCLogin).Methods(http.MethodGet)
		r.HandleFunc("/oidc/callback", h.handleOIDCCallback).Methods(http.MethodGet)
	}

	protected := r.NewRoute().Subrouter()
	protected.Use(middleware.Authenticate(h.tokenSigner))
	protected.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
}

func (h *AuthHandler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req models.BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	org, user, err := h.service.Bootstrap(r.Context(), req)
	if err != nil {
		logger.Log.WithError(err).Warn("bootstrap failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token, err := h.tokenSigner.IssueToken(user)
	if err != nil {
		logger.Log.WithError(err).Error("issue token failed during bootstrap")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, models.AuthResponse{
		Token: token,
		User:  user,
		Org:   org,
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		logger.Log.WithError(err).Warn("authentication failed")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := h.tokenSigner.IssueToken(user)
	if err != nil {
		logger.Log.WithError(err).Error("failed issuing token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, models.AuthResponse{
		Token: token,
		User:  user,
	})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to load session user")
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	actor, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), actor, req)
	if err != nil {
		logger.Log.WithError(err).Warn("register user failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

const oidcStateCookie = "oidc_state"

func (h *AuthHandler) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     "/api/v1/auth/oidc",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oidc.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oidcStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	providerToken, err := h.oidc.Exchange(r.Context(), code)
	if err != nil {
		http.Error(w, "code exchange failed", http.StatusUnauthorized)
		return
	}
	email, err := h.oidc.EmailFromIDToken(providerToken)
	if err != nil {
		logger.Log.WithError(err).Warn("OIDC id_token rejected")
		http.Error(w, "invalid identity token", http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetUserByEmail(r.Context(), email)
	if err != nil {
		logger.Log.WithField("email", email).Warn("SSO login for unknown account")
		http.Error(w, "no account for this identity", http.StatusUnauthorized)
		return
	}

	token, err := h.tokenSigner.IssueToken(user)
	if err != nil {
		logger.Log.WithError(err).Error("failed issuing token after SSO login")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, models.AuthResponse{
		Token: token,
		User:  user,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
