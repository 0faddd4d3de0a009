package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/models"
)

var (
	ErrCannotFriendSelf     = errors.New("cannot send a friend request to yourself")
	ErrAlreadyFriends       = errors.New("users are already friends")
	ErrDuplicateRequest     = errors.New("an active friend request already exists")
	ErrRequestNotFound      = errors.New("friend request not found")
	ErrNotRequestReceiver   = errors.New("only the receiver can act on this request")
	ErrFriendUserNotFound   = errors.New("target user not found")
	ErrFriendshipNotFound   = errors.New("friendship not found")
	ErrRelationshipConflict = errors.New("relationship records are inconsistent for this pair")
)

// FriendServiceInterface is the ledger surface handlers and views depend on.
type FriendServiceInterface interface {
	SendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (*models.SendRequestResult, error)
	CancelRequest(ctx context.Context, senderID, receiverID uuid.UUID) error
	AcceptRequest(ctx context.Context, requestID, accepterID uuid.UUID) (*models.Friendship, error)
	IgnoreRequest(ctx context.Context, requestID, ignorerID uuid.UUID) error
	GetStatus(ctx context.Context, viewerID, targetID uuid.UUID) (models.RelationshipStatus, error)
	ListFriends(ctx context.Context, userID uuid.UUID) ([]models.FriendWithUser, error)
	ListPendingReceived(ctx context.Context, userID uuid.UUID) ([]models.PendingRequest, error)
	ListPendingSent(ctx context.Context, userID uuid.UUID) ([]models.PendingRequest, error)
	RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error
}

// FriendService owns friend request and friendship state. Every mutation on a
// user pair runs inside a transaction holding the ordered pair lock, so the
// derived relationship status is always single-valued per ordered pair.
type FriendService struct {
	db                  DB
	notificationService NotificationServiceInterface
}

func NewFriendService(db DB) *FriendService {
	return &FriendService{db: db}
}

func (s *FriendService) SetNotificationService(notificationService NotificationServiceInterface) {
	s.notificationService = notificationService
}

func (s *FriendService) SendRequest(ctx context.Context, senderID, receiverID uuid.UUID) (*models.SendRequestResult, error) {
	if senderID == receiverID {
		return nil, ErrCannotFriendSelf
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin send request transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := lockUserPairForUpdate(ctx, tx, senderID, receiverID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFriendUserNotFound
		}
		return nil, fmt.Errorf("lock users: %w", err)
	}

	var friends bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE (user_a_id = $1 AND user_b_id = $2)
			   OR (user_a_id = $2 AND user_b_id = $1)
		)`,
		senderID, receiverID,
	).Scan(&friends)
	if err != nil {
		return nil, fmt.Errorf("check friendship: %w", err)
	}
	if friends {
		return nil, ErrAlreadyFriends
	}

	var outgoing bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM friend_requests
			WHERE sender_id = $1 AND receiver_id = $2
		)`,
		senderID, receiverID,
	).Scan(&outgoing)
	if err != nil {
		return nil, fmt.Errorf("check outgoing request: %w", err)
	}
	if outgoing {
		return nil, ErrDuplicateRequest
	}

	// A crossing request from the receiver is mutual intent: resolve it to a
	// friendship instead of leaving two pending requests.
	var reverseID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM friend_requests
		 WHERE sender_id = $1 AND receiver_id = $2`,
		receiverID, senderID,
	).Scan(&reverseID)
	reciprocal := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check reverse request: %w", err)
	}

	// Any new activity on the pair invalidates ignore markers in both
	// directions; markers and active state are mutually exclusive per pair.
	_, err = tx.Exec(ctx,
		`DELETE FROM friend_request_ignores
		 WHERE (ignorer_id = $1 AND sender_id = $2)
		    OR (ignorer_id = $2 AND sender_id = $1)`,
		senderID, receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("clear ignore markers: %w", err)
	}

	result := &models.SendRequestResult{}
	if reciprocal {
		if _, err := tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, reverseID); err != nil {
			return nil, fmt.Errorf("resolve reverse request: %w", err)
		}

		friendship := &models.Friendship{UserAID: receiverID, UserBID: senderID}
		err = tx.QueryRow(ctx,
			`INSERT INTO friendships (user_a_id, user_b_id)
			 VALUES ($1, $2)
			 RETURNING id, created_at`,
			receiverID, senderID,
		).Scan(&friendship.ID, &friendship.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert friendship: %w", err)
		}

		result.Status = models.RelationshipFriends
		result.Friendship = friendship
	} else {
		request := &models.FriendRequest{SenderID: senderID, ReceiverID: receiverID}
		err = tx.QueryRow(ctx,
			`INSERT INTO friend_requests (sender_id, receiver_id)
			 VALUES ($1, $2)
			 RETURNING id, created_at`,
			senderID, receiverID,
		).Scan(&request.ID, &request.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert friend request: %w", err)
		}

		result.Status = models.RelationshipPendingSent
		result.Request = request
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit send request: %w", err)
	}
	committed = true

	if s.notificationService != nil {
		if reciprocal {
			if err := s.notificationService.NotifyFriendRequestAccepted(ctx, senderID, receiverID); err != nil {
				logging.Error("Failed to send mutual-request notification", map[string]interface{}{
					"error":       err.Error(),
					"sender_id":   senderID.String(),
					"receiver_id": receiverID.String(),
				})
			}
		} else {
			if err := s.notificationService.NotifyFriendRequestReceived(ctx, receiverID, senderID); err != nil {
				logging.Error("Failed to send friend request notification", map[string]interface{}{
					"error":       err.Error(),
					"sender_id":   senderID.String(),
					"receiver_id": receiverID.String(),
				})
			}
		}
	}

	return result, nil
}

// CancelRequest removes the sender's own active outgoing request. A second
// cancel reports ErrRequestNotFound instead of succeeding twice.
func (s *FriendService) CancelRequest(ctx context.Context, senderID, receiverID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`DELETE FROM friend_requests
		 WHERE sender_id = $1 AND receiver_id = $2`,
		senderID, receiverID,
	)
	if err != nil {
		return fmt.Errorf("cancel friend request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (s *FriendService) AcceptRequest(ctx context.Context, requestID, accepterID uuid.UUID) (*models.Friendship, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin accept transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var senderID, receiverID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT sender_id, receiver_id FROM friend_requests
		 WHERE id = $1
		 FOR UPDATE`,
		requestID,
	).Scan(&senderID, &receiverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load friend request: %w", err)
	}

	if receiverID != accepterID {
		return nil, ErrNotRequestReceiver
	}

	if err := lockUserPairForUpdate(ctx, tx, senderID, receiverID); err != nil {
		return nil, fmt.Errorf("lock users: %w", err)
	}

	var friends bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM friendships
			WHERE (user_a_id = $1 AND user_b_id = $2)
			   OR (user_a_id = $2 AND user_b_id = $1)
		)`,
		senderID, receiverID,
	).Scan(&friends)
	if err != nil {
		return nil, fmt.Errorf("check friendship: %w", err)
	}
	if friends {
		// An edge and an active request for the same pair should not coexist.
		return nil, ErrRelationshipConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, requestID); err != nil {
		return nil, fmt.Errorf("delete friend request: %w", err)
	}

	friendship := &models.Friendship{UserAID: senderID, UserBID: receiverID}
	err = tx.QueryRow(ctx,
		`INSERT INTO friendships (user_a_id, user_b_id)
		 VALUES ($1, $2)
		 RETURNING id, created_at`,
		senderID, receiverID,
	).Scan(&friendship.ID, &friendship.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert friendship: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit accept: %w", err)
	}
	committed = true

	if s.notificationService != nil {
		if err := s.notificationService.NotifyFriendRequestAccepted(ctx, senderID, accepterID); err != nil {
			logging.Error("Failed to send acceptance notification", map[string]interface{}{
				"error":       err.Error(),
				"sender_id":   senderID.String(),
				"accepter_id": accepterID.String(),
			})
		}
	}

	return friendship, nil
}

// IgnoreRequest destroys the request and leaves a directed marker so the
// ignorer's view reports ignored rather than reverting to none.
func (s *FriendService) IgnoreRequest(ctx context.Context, requestID, ignorerID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ignore transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var senderID, receiverID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT sender_id, receiver_id FROM friend_requests
		 WHERE id = $1
		 FOR UPDATE`,
		requestID,
	).Scan(&senderID, &receiverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("load friend request: %w", err)
	}

	if receiverID != ignorerID {
		return ErrNotRequestReceiver
	}

	if err := lockUserPairForUpdate(ctx, tx, senderID, receiverID); err != nil {
		return fmt.Errorf("lock users: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, requestID); err != nil {
		return fmt.Errorf("delete friend request: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO friend_request_ignores (ignorer_id, sender_id)
		 VALUES ($1, $2)
		 ON CONFLICT (ignorer_id, sender_id) DO NOTHING`,
		ignorerID, senderID,
	)
	if err != nil {
		return fmt.Errorf("insert ignore marker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ignore: %w", err)
	}
	committed = true
	return nil
}

// GetStatus derives the relationship status of viewer toward target. It is
// read-only and reports ErrRelationshipConflict when the underlying records
// contradict each other instead of papering over them.
func (s *FriendService) GetStatus(ctx context.Context, viewerID, targetID uuid.UUID) (models.RelationshipStatus, error) {
	if viewerID == targetID {
		return models.RelationshipNone, nil
	}

	var friends, sent, received, ignored bool
	err := s.db.QueryRow(ctx,
		`SELECT
			EXISTS(
				SELECT 1 FROM friendships
				WHERE (user_a_id = $1 AND user_b_id = $2)
				   OR (user_a_id = $2 AND user_b_id = $1)
			),
			EXISTS(SELECT 1 FROM friend_requests WHERE sender_id = $1 AND receiver_id = $2),
			EXISTS(SELECT 1 FROM friend_requests WHERE sender_id = $2 AND receiver_id = $1),
			EXISTS(SELECT 1 FROM friend_request_ignores WHERE ignorer_id = $1 AND sender_id = $2)`,
		viewerID, targetID,
	).Scan(&friends, &sent, &received, &ignored)
	if err != nil {
		return "", fmt.Errorf("query relationship status: %w", err)
	}

	if friends && (sent || received) {
		return "", ErrRelationshipConflict
	}
	if sent && received {
		return "", ErrRelationshipConflict
	}

	switch {
	case friends:
		return models.RelationshipFriends, nil
	case sent:
		return models.RelationshipPendingSent, nil
	case received:
		return models.RelationshipPendingReceived, nil
	case ignored:
		return models.RelationshipIgnored, nil
	default:
		return models.RelationshipNone, nil
	}
}

func (s *FriendService) ListFriends(ctx context.Context, userID uuid.UUID) ([]models.FriendWithUser, error) {
	rows, err := s.db.Query(ctx,
		`SELECT f.id, f.user_a_id, f.user_b_id, f.created_at, u.id, u.username, u.display_name
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.user_a_id = $1 THEN f.user_b_id ELSE f.user_a_id END
		 WHERE f.user_a_id = $1 OR f.user_b_id = $1
		 ORDER BY f.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer rows.Close()

	friends := []models.FriendWithUser{}
	for rows.Next() {
		var f models.FriendWithUser
		if err := rows.Scan(&f.ID, &f.UserAID, &f.UserBID, &f.CreatedAt, &f.FriendID, &f.FriendUsername, &f.FriendDisplayName); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return friends, nil
}

func (s *FriendService) ListPendingReceived(ctx context.Context, userID uuid.UUID) ([]models.PendingRequest, error) {
	return s.listPending(ctx,
		`SELECT fr.id, fr.sender_id, fr.receiver_id, fr.created_at, u.username, u.display_name
		 FROM friend_requests fr
		 JOIN users u ON u.id = fr.sender_id
		 WHERE fr.receiver_id = $1
		 ORDER BY fr.created_at ASC`,
		userID,
	)
}

func (s *FriendService) ListPendingSent(ctx context.Context, userID uuid.UUID) ([]models.PendingRequest, error) {
	return s.listPending(ctx,
		`SELECT fr.id, fr.sender_id, fr.receiver_id, fr.created_at, u.username, u.display_name
		 FROM friend_requests fr
		 JOIN users u ON u.id = fr.receiver_id
		 WHERE fr.sender_id = $1
		 ORDER BY fr.created_at ASC`,
		userID,
	)
}

func (s *FriendService) listPending(ctx context.Context, sql string, userID uuid.UUID) ([]models.PendingRequest, error) {
	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	requests := []models.PendingRequest{}
	for rows.Next() {
		var req models.PendingRequest
		if err := rows.Scan(&req.ID, &req.SenderID, &req.ReceiverID, &req.CreatedAt, &req.Username, &req.DisplayName); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending requests: %w", err)
	}
	return requests, nil
}

func (s *FriendService) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`DELETE FROM friendships
		 WHERE (user_a_id = $1 AND user_b_id = $2)
		    OR (user_a_id = $2 AND user_b_id = $1)`,
		userID, friendID,
	)
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrFriendshipNotFound
	}
	return nil
}
