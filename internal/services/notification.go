package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

const notificationRetention = 90 * 24 * time.Hour

type NotificationServiceInterface interface {
	NotifyFriendRequestReceived(ctx context.Context, userID, actorID uuid.UUID) error
	NotifyFriendRequestAccepted(ctx context.Context, userID, actorID uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	Delete(ctx context.Context, userID, notificationID uuid.UUID) error
}

// NotificationService records in-app notifications and, when the recipient
// has an email address, delivers a copy through the configured email
// provider. Email failures are logged, never surfaced to the triggering
// operation.
type NotificationService struct {
	db    DB
	email *EmailService
}

func NewNotificationService(db DB, email *EmailService) *NotificationService {
	return &NotificationService{db: db, email: email}
}

func (s *NotificationService) NotifyFriendRequestReceived(ctx context.Context, userID, actorID uuid.UUID) error {
	return s.notify(ctx, userID, actorID, models.NotificationTypeFriendRequestReceived)
}

func (s *NotificationService) NotifyFriendRequestAccepted(ctx context.Context, userID, actorID uuid.UUID) error {
	return s.notify(ctx, userID, actorID, models.NotificationTypeFriendRequestAccepted)
}

func (s *NotificationService) notify(ctx context.Context, userID, actorID uuid.UUID, kind models.NotificationType) error {
	var notificationID uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO notifications (user_id, type, actor_user_id)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		userID, kind, actorID,
	).Scan(&notificationID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if s.email != nil {
		if err := s.deliverEmail(ctx, notificationID, userID, actorID, kind); err != nil {
			logging.Warn("Notification email delivery failed", map[string]interface{}{
				"error":           err.Error(),
				"notification_id": notificationID.String(),
			})
		}
	}
	return nil
}

func (s *NotificationService) deliverEmail(ctx context.Context, notificationID, userID, actorID uuid.UUID, kind models.NotificationType) error {
	var email *string
	var actorName string
	err := s.db.QueryRow(ctx,
		`SELECT u.email, COALESCE(NULLIF(a.display_name, ''), a.username)
		 FROM users u, users a
		 WHERE u.id = $1 AND a.id = $2`,
		userID, actorID,
	).Scan(&email, &actorName)
	if err != nil {
		return fmt.Errorf("load notification recipients: %w", err)
	}
	if email == nil || *email == "" {
		return nil
	}

	subject, html, text := buildNotificationEmail(kind, actorName, s.email.BaseURL())
	if err := s.email.Send(ctx, *email, subject, html, text); err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`UPDATE notifications SET email_delivered = true, email_sent_at = NOW() WHERE id = $1`,
		notificationID,
	)
	if err != nil {
		return fmt.Errorf("mark email delivered: %w", err)
	}
	return nil
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT n.id, n.user_id, n.type, n.actor_user_id, a.username,
		        n.email_delivered, n.email_sent_at, n.read_at, n.created_at
		 FROM notifications n
		 LEFT JOIN users a ON a.id = n.actor_user_id
		 WHERE n.user_id = $1
		 ORDER BY n.created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.ActorUserID, &n.ActorUsername,
			&n.EmailDelivered, &n.EmailSentAt, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return notifications, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`UPDATE notifications SET read_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND read_at IS NULL`,
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE notifications SET read_at = NOW()
		 WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, notificationID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// CleanupOld drops notifications past the retention window.
func (s *NotificationService) CleanupOld(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`,
		time.Now().Add(-notificationRetention),
	)
	if err != nil {
		return fmt.Errorf("cleanup notifications: %w", err)
	}
	return nil
}

func buildNotificationEmail(kind models.NotificationType, actorName, baseURL string) (string, string, string) {
	var subject, line string
	switch kind {
	case models.NotificationTypeFriendRequestReceived:
		subject = fmt.Sprintf("%s sent you a friend request", actorName)
		line = fmt.Sprintf("%s wants to be friends on Beacon.", actorName)
	case models.NotificationTypeFriendRequestAccepted:
		subject = fmt.Sprintf("%s accepted your friend request", actorName)
		line = fmt.Sprintf("You and %s are now friends on Beacon.", actorName)
	default:
		subject = "Beacon notification"
		line = "You have a new notification on Beacon."
	}

	requestsURL := fmt.Sprintf("%s/#friends", baseURL)
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 640px; margin: 0 auto; padding: 24px;">
  <h1 style="color: #333; font-size: 24px;">Beacon</h1>
  <p style="font-size: 16px;">%s</p>
  <p>
    <a href="%s" style="display: inline-block; background: #3182ce; color: white; padding: 10px 18px; text-decoration: none; border-radius: 6px; margin: 12px 0;">Open Beacon</a>
  </p>
</body>
</html>`, line, requestsURL)
	text := fmt.Sprintf("%s\n\nOpen Beacon: %s\n", line, requestsURL)
	return subject, html, text
}
