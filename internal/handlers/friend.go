package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/beaconlabs/beacon/internal/models"
	"github.com/beaconlabs/beacon/internal/services"
)

type FriendHandler struct {
	friendService    services.FriendServiceInterface
	reconcileService services.ReconcileServiceInterface
}

func NewFriendHandler(friendService services.FriendServiceInterface, reconcileService services.ReconcileServiceInterface) *FriendHandler {
	return &FriendHandler{
		friendService:    friendService,
		reconcileService: reconcileService,
	}
}

type SendRequestRequest struct {
	FriendID string `json:"friend_id"`
}

type SendRequestResponse struct {
	Result    *models.SendRequestResult `json:"result"`
	Candidate *models.Candidate         `json:"candidate,omitempty"`
}

type UserSearchResponse struct {
	Users []models.Candidate `json:"users"`
}

type FriendListResponse struct {
	Friends []models.FriendWithUser `json:"friends"`
}

type PendingRequestsResponse struct {
	Requests []models.PendingRequest `json:"requests"`
}

type CandidateResponse struct {
	Candidate *models.Candidate `json:"candidate"`
}

// Search returns users matching the query, each annotated with the viewer's
// relationship status and the one permitted action.
func (h *FriendHandler) Search(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < services.SearchQueryMinLength {
		writeJSON(w, http.StatusOK, UserSearchResponse{Users: []models.Candidate{}})
		return
	}

	candidates, err := h.reconcileService.Search(r.Context(), user.ID, query)
	if err != nil {
		log.Printf("Error searching users: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, UserSearchResponse{Users: candidates})
}

// Status re-derives a single candidate's relationship status, used after a
// mutation instead of rerunning the whole search.
func (h *FriendHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	targetID, err := parseFriendPathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	candidate, err := h.reconcileService.Refresh(r.Context(), user.ID, targetID)
	if errors.Is(err, services.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		log.Printf("Error refreshing candidate: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, CandidateResponse{Candidate: candidate})
}

func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req SendRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	friendID, err := uuid.Parse(req.FriendID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid friend ID")
		return
	}

	result, err := h.friendService.SendRequest(r.Context(), user.ID, friendID)
	switch {
	case errors.Is(err, services.ErrCannotFriendSelf):
		writeError(w, http.StatusBadRequest, "Cannot send a friend request to yourself")
		return
	case errors.Is(err, services.ErrFriendUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
		return
	case errors.Is(err, services.ErrAlreadyFriends):
		writeError(w, http.StatusConflict, "Already friends")
		return
	case errors.Is(err, services.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "Friend request already sent")
		return
	case errors.Is(err, services.ErrRelationshipConflict):
		writeError(w, http.StatusConflict, "Relationship records are inconsistent")
		return
	case err != nil:
		log.Printf("Error sending friend request: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusCreated, SendRequestResponse{Result: result})
}

// CancelRequest withdraws the viewer's outgoing request toward the user in
// the path. A request that no longer exists reports not found; cancelling is
// never an error to repeat.
func (h *FriendHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	targetID, err := parseFriendPathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	err = h.friendService.CancelRequest(r.Context(), user.ID, targetID)
	if errors.Is(err, services.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, "Friend request not found")
		return
	}
	if err != nil {
		log.Printf("Error cancelling friend request: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Friend request cancelled"})
}

func (h *FriendHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, err := parseFriendPathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	friendship, err := h.friendService.AcceptRequest(r.Context(), requestID, user.ID)
	switch {
	case errors.Is(err, services.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "Friend request not found")
		return
	case errors.Is(err, services.ErrNotRequestReceiver):
		writeError(w, http.StatusForbidden, "Only the receiver can accept this request")
		return
	case errors.Is(err, services.ErrRelationshipConflict):
		writeError(w, http.StatusConflict, "Relationship records are inconsistent")
		return
	case err != nil:
		log.Printf("Error accepting friend request: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, friendship)
}

// IgnoreRequest dismisses an incoming request without notifying the sender.
func (h *FriendHandler) IgnoreRequest(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requestID, err := parseFriendPathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	err = h.friendService.IgnoreRequest(r.Context(), requestID, user.ID)
	switch {
	case errors.Is(err, services.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "Friend request not found")
		return
	case errors.Is(err, services.ErrNotRequestReceiver):
		writeError(w, http.StatusForbidden, "Only the receiver can ignore this request")
		return
	case err != nil:
		log.Printf("Error ignoring friend request: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Friend request ignored"})
}

func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	friendID, err := parseFriendPathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	err = h.friendService.RemoveFriend(r.Context(), user.ID, friendID)
	if errors.Is(err, services.ErrFriendshipNotFound) {
		writeError(w, http.StatusNotFound, "Friendship not found")
		return
	}
	if err != nil {
		log.Printf("Error removing friend: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Friend removed"})
}

func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	friends, err := h.friendService.ListFriends(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error listing friends: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, FriendListResponse{Friends: friends})
}

func (h *FriendHandler) ListPendingReceived(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.friendService.ListPendingReceived(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error listing received requests: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, PendingRequestsResponse{Requests: requests})
}

func (h *FriendHandler) ListPendingSent(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.friendService.ListPendingSent(r.Context(), user.ID)
	if err != nil {
		log.Printf("Error listing sent requests: %v", err)
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, PendingRequestsResponse{Requests: requests})
}

// parseFriendPathID extracts the UUID path segment following /api/friends,
// tolerating a trailing action segment like /accept or /ignore.
func parseFriendPathID(r *http.Request) (uuid.UUID, error) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	for i, part := range parts {
		if part == "friends" && i+1 < len(parts) {
			return uuid.Parse(parts[i+1])
		}
	}
	return uuid.Nil, errors.New("missing ID in path")
}
