package models

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipStatus is the derived pair-state from a viewer toward a target.
// Exactly one value holds for any ordered pair at any time.
type RelationshipStatus string

const (
	RelationshipNone            RelationshipStatus = "none"
	RelationshipPendingSent     RelationshipStatus = "pending_sent"
	RelationshipPendingReceived RelationshipStatus = "pending_received"
	RelationshipFriends         RelationshipStatus = "friends"
	RelationshipIgnored         RelationshipStatus = "ignored"
)

// FriendRequest is a directed, active proposal. It is destroyed on accept,
// cancel, or ignore, never flagged.
type FriendRequest struct {
	ID         uuid.UUID `json:"id"`
	SenderID   uuid.UUID `json:"sender_id"`
	ReceiverID uuid.UUID `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Friendship is the undirected edge created once intent is mutual. UserAID and
// UserBID are stored in insertion order; the pair is treated as unordered.
type Friendship struct {
	ID        uuid.UUID `json:"id"`
	UserAID   uuid.UUID `json:"user_a_id"`
	UserBID   uuid.UUID `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

type FriendWithUser struct {
	Friendship
	FriendID          uuid.UUID `json:"friend_id"`
	FriendUsername    string    `json:"friend_username"`
	FriendDisplayName *string   `json:"friend_display_name,omitempty"`
}

// PendingRequest is a FriendRequest joined with the counterparty's identity,
// for the sent and received request lists.
type PendingRequest struct {
	FriendRequest
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
}

// SendRequestResult reports what SendRequest produced: a pending request, or a
// friendship when a reciprocal request resolved to mutual intent.
type SendRequestResult struct {
	Status     RelationshipStatus `json:"status"`
	Request    *FriendRequest     `json:"request,omitempty"`
	Friendship *Friendship        `json:"friendship,omitempty"`
}

// CandidateAction is the single action a viewer may take toward a candidate.
type CandidateAction string

const (
	ActionAdd    CandidateAction = "add"
	ActionCancel CandidateAction = "cancel"
	ActionNone   CandidateAction = "none"
)

// Candidate is a search result annotated with the viewer's relationship status
// and the one permitted action.
type Candidate struct {
	UserSearchResult
	Status RelationshipStatus `json:"status"`
	Action CandidateAction    `json:"action"`
}

// ActionForStatus maps a relationship status to the action a candidate list
// may offer. Received requests are acted on from the requests view, not here.
func ActionForStatus(status RelationshipStatus) CandidateAction {
	switch status {
	case RelationshipNone:
		return ActionAdd
	case RelationshipPendingSent:
		return ActionCancel
	default:
		return ActionNone
	}
}
