package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/beaconlabs/beacon/internal/models"
	"github.com/beaconlabs/beacon/internal/services"
)

const defaultWindowDays = 7

type PresenceHandler struct {
	presenceService services.PresenceServiceInterface
}

func NewPresenceHandler(presenceService services.PresenceServiceInterface) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

type HeartbeatRequest struct {
	Seconds  int    `json:"seconds"`
	Activity string `json:"activity,omitempty"`
}

type FriendPresenceResponse struct {
	Friends []models.FriendPresence `json:"friends"`
}

type PresenceSettingsResponse struct {
	Settings *models.PresenceSettings `json:"settings"`
}

type UpdatePrivacyRequest struct {
	Privacy models.PrivacyLevel `json:"privacy"`
}

func (h *PresenceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.presenceService.RecordHeartbeat(r.Context(), user.ID, req.Seconds, req.Activity)
	if errors.Is(err, services.ErrInvalidHeartbeat) {
		writeError(w, http.StatusBadRequest, "Invalid heartbeat duration")
		return
	}
	if err != nil {
		log.Printf("Error recording heartbeat: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Heartbeat recorded"})
}

// Hourly returns the 24-bucket hour-of-day aggregate for the trailing
// window given by the days query parameter.
func (h *PresenceHandler) Hourly(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	days, ok := parseWindowDays(w, r)
	if !ok {
		return
	}

	agg, err := h.presenceService.HourlyAggregate(r.Context(), user.ID, days)
	if errors.Is(err, services.ErrInvalidWindow) {
		writeError(w, http.StatusBadRequest, "Invalid window size")
		return
	}
	if err != nil {
		log.Printf("Error computing hourly aggregate: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

func (h *PresenceHandler) Daily(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	days, ok := parseWindowDays(w, r)
	if !ok {
		return
	}

	agg, err := h.presenceService.DailyAggregate(r.Context(), user.ID, days)
	if errors.Is(err, services.ErrInvalidWindow) {
		writeError(w, http.StatusBadRequest, "Invalid window size")
		return
	}
	if err != nil {
		log.Printf("Error computing daily aggregate: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// Chart renders the hourly aggregate as a shareable PNG.
func (h *PresenceHandler) Chart(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	days, ok := parseWindowDays(w, r)
	if !ok {
		return
	}

	agg, err := h.presenceService.HourlyAggregate(r.Context(), user.ID, days)
	if errors.Is(err, services.ErrInvalidWindow) {
		writeError(w, http.StatusBadRequest, "Invalid window size")
		return
	}
	if err != nil {
		log.Printf("Error computing hourly aggregate: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	pngBytes, err := services.RenderHourlyChartPNG(agg, user.Name())
	if err != nil {
		log.Printf("Error rendering presence chart: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pngBytes)
}

// Friends returns the viewer's friends with live presence, filtered by each
// friend's privacy level.
func (h *PresenceHandler) Friends(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	friends, err := h.presenceService.FriendPresence(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error loading friend presence: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, FriendPresenceResponse{Friends: friends})
}

func (h *PresenceHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	settings, err := h.presenceService.GetSettings(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error loading presence settings: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, PresenceSettingsResponse{Settings: settings})
}

func (h *PresenceHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req UpdatePrivacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.presenceService.UpdatePrivacy(r.Context(), user.ID, req.Privacy)
	if errors.Is(err, services.ErrInvalidPrivacyLevel) {
		writeError(w, http.StatusBadRequest, "Invalid privacy level")
		return
	}
	if err != nil {
		log.Printf("Error updating presence settings: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Settings updated"})
}

// parseWindowDays reads the days query parameter, defaulting when absent.
// It writes a 400 and returns false on a malformed value; range checks are
// left to the aggregation service.
func parseWindowDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	daysParam := r.URL.Query().Get("days")
	if daysParam == "" {
		return defaultWindowDays, true
	}
	days, err := strconv.Atoi(daysParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid days parameter")
		return 0, false
	}
	return days, true
}
