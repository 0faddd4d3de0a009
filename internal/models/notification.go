package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationTypeFriendRequestReceived NotificationType = "friend_request_received"
	NotificationTypeFriendRequestAccepted NotificationType = "friend_request_accepted"
)

type Notification struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	Type           NotificationType `json:"type"`
	ActorUserID    *uuid.UUID       `json:"actor_user_id,omitempty"`
	ActorUsername  *string          `json:"actor_username,omitempty"`
	EmailDelivered bool             `json:"email_delivered"`
	EmailSentAt    *time.Time       `json:"email_sent_at,omitempty"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
