package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beaconlabs/beacon/internal/models"
)

type fakeNotificationService struct {
	receivedCalls [][2]uuid.UUID
	acceptedCalls [][2]uuid.UUID
	err           error
}

func (f *fakeNotificationService) NotifyFriendRequestReceived(ctx context.Context, userID, actorID uuid.UUID) error {
	f.receivedCalls = append(f.receivedCalls, [2]uuid.UUID{userID, actorID})
	return f.err
}

func (f *fakeNotificationService) NotifyFriendRequestAccepted(ctx context.Context, userID, actorID uuid.UUID) error {
	f.acceptedCalls = append(f.acceptedCalls, [2]uuid.UUID{userID, actorID})
	return f.err
}

func (f *fakeNotificationService) List(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return nil
}

func (f *fakeNotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	return nil
}

func (f *fakeNotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeNotificationService) Delete(ctx context.Context, userID, notificationID uuid.UUID) error {
	return nil
}

// sendRequestTx builds a fakeTx for the SendRequest flow. The booleans pick
// which branch each existence check takes.
func sendRequestTx(t *testing.T, friends, outgoing bool, reverseID *uuid.UUID) *fakeTx {
	t.Helper()
	return &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			switch {
			case strings.Contains(sql, "FROM users"):
				return rowFromValues(args[0])
			case strings.Contains(sql, "FROM friendships"):
				return rowFromValues(friends)
			case strings.Contains(sql, "SELECT EXISTS") && strings.Contains(sql, "friend_requests"):
				return rowFromValues(outgoing)
			case strings.Contains(sql, "SELECT id FROM friend_requests"):
				if reverseID == nil {
					return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
				}
				return rowFromValues(*reverseID)
			case strings.Contains(sql, "INSERT INTO friend_requests"):
				return rowFromValues(uuid.New(), time.Now())
			case strings.Contains(sql, "INSERT INTO friendships"):
				return rowFromValues(uuid.New(), time.Now())
			default:
				t.Fatalf("unexpected query: %s", sql)
				return nil
			}
		},
	}
}

func TestFriendService_SendRequest_Self(t *testing.T) {
	svc := NewFriendService(&fakeDB{})
	id := uuid.New()

	_, err := svc.SendRequest(context.Background(), id, id)
	if !errors.Is(err, ErrCannotFriendSelf) {
		t.Fatalf("expected ErrCannotFriendSelf, got %v", err)
	}
}

func TestFriendService_SendRequest_TargetMissing(t *testing.T) {
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	_, err := svc.SendRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrFriendUserNotFound) {
		t.Fatalf("expected ErrFriendUserNotFound, got %v", err)
	}
}

func TestFriendService_SendRequest_AlreadyFriends(t *testing.T) {
	tx := sendRequestTx(t, true, false, nil)
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	_, err := svc.SendRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrAlreadyFriends) {
		t.Fatalf("expected ErrAlreadyFriends, got %v", err)
	}
}

func TestFriendService_SendRequest_Duplicate(t *testing.T) {
	tx := sendRequestTx(t, false, true, nil)
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	_, err := svc.SendRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestFriendService_SendRequest_CreatesPending(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()

	var clearedIgnores bool
	tx := sendRequestTx(t, false, false, nil)
	tx.ExecFunc = func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
		if strings.Contains(sql, "DELETE FROM friend_request_ignores") {
			clearedIgnores = true
		}
		return fakeCommandTag{rowsAffected: 1}, nil
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)
	notifier := &fakeNotificationService{}
	svc.SetNotificationService(notifier)

	result, err := svc.SendRequest(context.Background(), sender, receiver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.RelationshipPendingSent {
		t.Errorf("expected pending_sent, got %s", result.Status)
	}
	if result.Request == nil || result.Friendship != nil {
		t.Errorf("expected request without friendship, got %+v", result)
	}
	if !clearedIgnores {
		t.Error("expected ignore markers cleared")
	}
	if len(notifier.receivedCalls) != 1 {
		t.Fatalf("expected 1 received notification, got %d", len(notifier.receivedCalls))
	}
	if notifier.receivedCalls[0] != [2]uuid.UUID{receiver, sender} {
		t.Errorf("notification sent to wrong pair: %v", notifier.receivedCalls[0])
	}
}

func TestFriendService_SendRequest_MutualResolvesToFriendship(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()
	reverseID := uuid.New()

	var deletedReverse bool
	tx := sendRequestTx(t, false, false, &reverseID)
	tx.ExecFunc = func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
		if strings.Contains(sql, "DELETE FROM friend_requests") {
			deletedReverse = true
			if args[0] != reverseID {
				t.Errorf("expected reverse request %s deleted, got %v", reverseID, args[0])
			}
		}
		return fakeCommandTag{rowsAffected: 1}, nil
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)
	notifier := &fakeNotificationService{}
	svc.SetNotificationService(notifier)

	result, err := svc.SendRequest(context.Background(), sender, receiver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.RelationshipFriends {
		t.Errorf("expected friends, got %s", result.Status)
	}
	if result.Friendship == nil || result.Request != nil {
		t.Errorf("expected friendship without request, got %+v", result)
	}
	if !deletedReverse {
		t.Error("expected reverse request deleted")
	}
	if len(notifier.acceptedCalls) != 1 || len(notifier.receivedCalls) != 0 {
		t.Errorf("expected exactly one accepted notification, got %+v", notifier)
	}
}

func TestFriendService_SendRequest_NotificationFailureDoesNotFail(t *testing.T) {
	tx := sendRequestTx(t, false, false, nil)
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)
	svc.SetNotificationService(&fakeNotificationService{err: errors.New("smtp down")})

	if _, err := svc.SendRequest(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("notification failure should not fail the request, got %v", err)
	}
}

func TestFriendService_CancelRequest(t *testing.T) {
	affected := int64(1)
	db := &fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			if !strings.Contains(sql, "DELETE FROM friend_requests") {
				t.Fatalf("unexpected exec: %s", sql)
			}
			return fakeCommandTag{rowsAffected: affected}, nil
		},
	}
	svc := NewFriendService(db)

	if err := svc.CancelRequest(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second cancel finds nothing to delete.
	affected = 0
	err := svc.CancelRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func acceptRequestTx(t *testing.T, senderID, receiverID uuid.UUID, friends bool) *fakeTx {
	t.Helper()
	return &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			switch {
			case strings.Contains(sql, "SELECT sender_id, receiver_id FROM friend_requests"):
				return rowFromValues(senderID, receiverID)
			case strings.Contains(sql, "FROM users"):
				return rowFromValues(args[0])
			case strings.Contains(sql, "FROM friendships"):
				return rowFromValues(friends)
			case strings.Contains(sql, "INSERT INTO friendships"):
				return rowFromValues(uuid.New(), time.Now())
			default:
				t.Fatalf("unexpected query: %s", sql)
				return nil
			}
		},
	}
}

func TestFriendService_AcceptRequest_NotFound(t *testing.T) {
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	_, err := svc.AcceptRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestFriendService_AcceptRequest_WrongReceiver(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()
	tx := acceptRequestTx(t, sender, receiver, false)
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	_, err := svc.AcceptRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotRequestReceiver) {
		t.Fatalf("expected ErrNotRequestReceiver, got %v", err)
	}
}

func TestFriendService_AcceptRequest_EdgeAlreadyExists(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()
	tx := acceptRequestTx(t, sender, receiver, true)
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	_, err := svc.AcceptRequest(context.Background(), uuid.New(), receiver)
	if !errors.Is(err, ErrRelationshipConflict) {
		t.Fatalf("expected ErrRelationshipConflict, got %v", err)
	}
}

func TestFriendService_AcceptRequest_Success(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()

	var deletedRequest bool
	tx := acceptRequestTx(t, sender, receiver, false)
	tx.ExecFunc = func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
		if strings.Contains(sql, "DELETE FROM friend_requests") {
			deletedRequest = true
		}
		return fakeCommandTag{rowsAffected: 1}, nil
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)
	notifier := &fakeNotificationService{}
	svc.SetNotificationService(notifier)

	friendship, err := svc.AcceptRequest(context.Background(), uuid.New(), receiver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if friendship.UserAID != sender || friendship.UserBID != receiver {
		t.Errorf("unexpected friendship pair: %+v", friendship)
	}
	if !deletedRequest {
		t.Error("expected request deleted")
	}
	if len(notifier.acceptedCalls) != 1 {
		t.Fatalf("expected 1 accepted notification, got %d", len(notifier.acceptedCalls))
	}
	if notifier.acceptedCalls[0] != [2]uuid.UUID{sender, receiver} {
		t.Errorf("acceptance notified wrong pair: %v", notifier.acceptedCalls[0])
	}
}

func TestFriendService_IgnoreRequest_Success(t *testing.T) {
	sender := uuid.New()
	receiver := uuid.New()

	var deletedRequest, insertedMarker bool
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			switch {
			case strings.Contains(sql, "SELECT sender_id, receiver_id FROM friend_requests"):
				return rowFromValues(sender, receiver)
			case strings.Contains(sql, "FROM users"):
				return rowFromValues(args[0])
			default:
				t.Fatalf("unexpected query: %s", sql)
				return nil
			}
		},
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			switch {
			case strings.Contains(sql, "DELETE FROM friend_requests"):
				deletedRequest = true
			case strings.Contains(sql, "INSERT INTO friend_request_ignores"):
				insertedMarker = true
				if args[0] != receiver || args[1] != sender {
					t.Errorf("marker should be ignorer->sender, got %v -> %v", args[0], args[1])
				}
			}
			return fakeCommandTag{rowsAffected: 1}, nil
		},
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	if err := svc.IgnoreRequest(context.Background(), uuid.New(), receiver); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deletedRequest || !insertedMarker {
		t.Errorf("expected request deleted and marker inserted, got %v/%v", deletedRequest, insertedMarker)
	}
}

func TestFriendService_IgnoreRequest_WrongReceiver(t *testing.T) {
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return rowFromValues(uuid.New(), uuid.New())
		},
	}
	db := &fakeDB{BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil }}
	svc := NewFriendService(db)

	err := svc.IgnoreRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotRequestReceiver) {
		t.Fatalf("expected ErrNotRequestReceiver, got %v", err)
	}
}

func TestFriendService_GetStatus(t *testing.T) {
	tests := []struct {
		name     string
		friends  bool
		sent     bool
		received bool
		ignored  bool
		want     models.RelationshipStatus
		wantErr  error
	}{
		{name: "none", want: models.RelationshipNone},
		{name: "friends", friends: true, want: models.RelationshipFriends},
		{name: "pending sent", sent: true, want: models.RelationshipPendingSent},
		{name: "pending received", received: true, want: models.RelationshipPendingReceived},
		{name: "ignored", ignored: true, want: models.RelationshipIgnored},
		{name: "friends wins over stale ignore", friends: true, ignored: true, want: models.RelationshipFriends},
		{name: "edge and request conflict", friends: true, sent: true, wantErr: ErrRelationshipConflict},
		{name: "crossing requests conflict", sent: true, received: true, wantErr: ErrRelationshipConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{
				QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
					return rowFromValues(tt.friends, tt.sent, tt.received, tt.ignored)
				},
			}
			svc := NewFriendService(db)

			status, err := svc.GetStatus(context.Background(), uuid.New(), uuid.New())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, status)
			}
		})
	}
}

func TestFriendService_GetStatus_Self(t *testing.T) {
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			t.Fatal("self status should not hit the database")
			return nil
		},
	}
	svc := NewFriendService(db)

	id := uuid.New()
	status, err := svc.GetStatus(context.Background(), id, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != models.RelationshipNone {
		t.Errorf("expected none for self, got %s", status)
	}
}

func TestFriendService_ListFriends(t *testing.T) {
	userID := uuid.New()
	friendID := uuid.New()
	now := time.Now()

	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{rows: [][]any{
				{uuid.New(), userID, friendID, now, friendID, "ada", nil},
			}}, nil
		},
	}
	svc := NewFriendService(db)

	friends, err := svc.ListFriends(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(friends) != 1 {
		t.Fatalf("expected 1 friend, got %d", len(friends))
	}
	if friends[0].FriendUsername != "ada" || friends[0].FriendID != friendID {
		t.Errorf("unexpected friend row: %+v", friends[0])
	}
}

func TestFriendService_RemoveFriend_NotFound(t *testing.T) {
	db := &fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			return fakeCommandTag{rowsAffected: 0}, nil
		},
	}
	svc := NewFriendService(db)

	err := svc.RemoveFriend(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrFriendshipNotFound) {
		t.Fatalf("expected ErrFriendshipNotFound, got %v", err)
	}
}
