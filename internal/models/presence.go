package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PrivacyLevel controls what other users may learn from a user's presence.
type PrivacyLevel string

const (
	PrivacyPublic      PrivacyLevel = "public"
	PrivacyFriendsOnly PrivacyLevel = "friends-only"
	PrivacyAnonymous   PrivacyLevel = "anonymous"
	PrivacyOff         PrivacyLevel = "off"
)

func IsValidPrivacyLevel(level PrivacyLevel) bool {
	switch level {
	case PrivacyPublic, PrivacyFriendsOnly, PrivacyAnonymous, PrivacyOff:
		return true
	}
	return false
}

type PresenceSettings struct {
	UserID    uuid.UUID    `json:"user_id"`
	Privacy   PrivacyLevel `json:"privacy"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// HourBucket is one hour-of-day rollup within an aggregate window.
type HourBucket struct {
	Hour    int   `json:"hour"`
	Seconds int64 `json:"seconds"`
}

// PresenceAggregate is the hourly rollup for a trailing window of days.
// Hours always holds 24 entries in ascending hour order; hours without
// samples report zero seconds.
type PresenceAggregate struct {
	Days         int          `json:"days"`
	StartDate    string       `json:"startDate"`
	EndDate      string       `json:"endDate"`
	TotalSeconds int64        `json:"totalSeconds"`
	Hours        []HourBucket `json:"hours"`
	PeakHour     int          `json:"peakHour"`
}

// DayBucket is one calendar-day rollup within an aggregate window.
type DayBucket struct {
	Date    string `json:"date"`
	Seconds int64  `json:"seconds"`
}

// DailyAggregate is the per-day rollup for a trailing window of days.
// Buckets covers every date in the window in ascending order.
type DailyAggregate struct {
	Days         int         `json:"days"`
	StartDate    string      `json:"startDate"`
	EndDate      string      `json:"endDate"`
	TotalSeconds int64       `json:"totalSeconds"`
	Buckets      []DayBucket `json:"buckets"`
	PeakDate     string      `json:"peakDate"`
}

// FriendPresence is a friend annotated with live presence, post privacy
// filtering.
type FriendPresence struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	DisplayName *string    `json:"display_name,omitempty"`
	Online      bool       `json:"online"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	Activity    string     `json:"activity,omitempty"`
}

// FormatDuration renders a seconds total the way the analytics views expect,
// e.g. "1 hr 5 min" or "12 min".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	min := (seconds % 3600) / 60
	if hrs > 0 {
		out := fmt.Sprintf("%d hr", hrs)
		if hrs > 1 {
			out += "s"
		}
		if min > 0 {
			out += fmt.Sprintf(" %d min", min)
		}
		return out
	}
	return fmt.Sprintf("%d min", min)
}
