package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/beaconlabs/beacon/internal/models"
	"github.com/beaconlabs/beacon/internal/services"
)

const sessionCookieName = "session_token"

type AuthHandler struct {
	authService services.AuthServiceInterface
	userService services.UserServiceInterface
	secure      bool
}

func NewAuthHandler(authService services.AuthServiceInterface, userService services.UserServiceInterface, secure bool) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
		secure:      secure,
	}
}

type RegisterRequest struct {
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name,omitempty"`
	Email       *string `json:"email,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	User *models.User `json:"user"`
}

type UpdateDisplayNameRequest struct {
	DisplayName *string `json:"display_name"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := h.authService.Register(r.Context(), req.Username, req.Password, req.DisplayName, req.Email)
	switch {
	case errors.Is(err, services.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, "Invalid username")
		return
	case errors.Is(err, services.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "Password too short")
		return
	case errors.Is(err, services.ErrUsernameAlreadyExists):
		writeError(w, http.StatusConflict, "Username already taken")
		return
	case err != nil:
		log.Printf("Error registering user: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, AuthResponse{User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := h.authService.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		log.Printf("Error logging in: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, AuthResponse{User: user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.authService.Logout(r.Context(), cookie.Value); err != nil {
			log.Printf("Error logging out: %v", err)
		}
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{User: user})
}

func (h *AuthHandler) UpdateDisplayName(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req UpdateDisplayNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.userService.UpdateDisplayName(r.Context(), user.ID, req.DisplayName)
	if errors.Is(err, services.ErrInvalidDisplayName) {
		writeError(w, http.StatusBadRequest, "Invalid display name")
		return
	}
	if err != nil {
		log.Printf("Error updating display name: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Display name updated"})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(0, 0),
	})
}
