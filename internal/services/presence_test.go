package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/models"
)

type fakeRedis struct {
	data    map[string]string
	deleted []string
	err     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	if f.err != nil {
		return f.err
	}
	switch v := value.(type) {
	case string:
		f.data[key] = v
	default:
		f.data[key] = "1"
	}
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	value, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return f.err
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	if f.err != nil {
		return f.err
	}
	for _, key := range keys {
		delete(f.data, key)
		f.deleted = append(f.deleted, key)
	}
	return nil
}

func presenceTestConfig() *config.PresenceConfig {
	return &config.PresenceConfig{
		OnlineTTLSeconds:    120,
		MaxHeartbeatSeconds: 300,
		RetentionDays:       400,
		MaxWindowDays:       365,
	}
}

func pinPresenceNow(t *testing.T, now time.Time) {
	t.Helper()
	prev := presenceNow
	presenceNow = func() time.Time { return now }
	t.Cleanup(func() { presenceNow = prev })
}

func TestPresenceService_RecordHeartbeat_InvalidSeconds(t *testing.T) {
	svc := NewPresenceService(&fakeDB{}, newFakeRedis(), presenceTestConfig())

	for _, seconds := range []int{0, -5, 301} {
		err := svc.RecordHeartbeat(context.Background(), uuid.New(), seconds, "")
		if !errors.Is(err, ErrInvalidHeartbeat) {
			t.Errorf("seconds=%d: expected ErrInvalidHeartbeat, got %v", seconds, err)
		}
	}
}

func TestPresenceService_RecordHeartbeat_Success(t *testing.T) {
	now := time.Date(2026, time.August, 29, 14, 30, 0, 0, time.UTC)
	pinPresenceNow(t, now)

	userID := uuid.New()
	var gotDay string
	var gotHour, gotSeconds int
	db := &fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			if !strings.Contains(sql, "INSERT INTO presence_samples") {
				t.Fatalf("unexpected exec: %s", sql)
			}
			gotDay = args[1].(string)
			gotHour = args[2].(int)
			gotSeconds = args[3].(int)
			return fakeCommandTag{rowsAffected: 1}, nil
		},
	}
	redisClient := newFakeRedis()
	svc := NewPresenceService(db, redisClient, presenceTestConfig())

	if err := svc.RecordHeartbeat(context.Background(), userID, 60, "in-game"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotDay != "2026-08-29" || gotHour != 14 || gotSeconds != 60 {
		t.Errorf("unexpected sample args: day=%s hour=%d seconds=%d", gotDay, gotHour, gotSeconds)
	}
	if redisClient.data[onlineKeyPrefix+userID.String()] != "1" {
		t.Error("expected online marker set")
	}
	if redisClient.data[activityKeyPrefix+userID.String()] != "in-game" {
		t.Error("expected activity set")
	}
	if _, err := time.Parse(time.RFC3339, redisClient.data[lastSeenKeyPrefix+userID.String()]); err != nil {
		t.Errorf("last seen not RFC3339: %v", err)
	}
}

func TestPresenceService_RecordHeartbeat_EmptyActivityClearsMarker(t *testing.T) {
	userID := uuid.New()
	redisClient := newFakeRedis()
	redisClient.data[activityKeyPrefix+userID.String()] = "stale"
	svc := NewPresenceService(&fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			return fakeCommandTag{rowsAffected: 1}, nil
		},
	}, redisClient, presenceTestConfig())

	if err := svc.RecordHeartbeat(context.Background(), userID, 30, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := redisClient.data[activityKeyPrefix+userID.String()]; ok {
		t.Error("expected stale activity deleted")
	}
}

func TestPresenceService_HourlyAggregate_InvalidWindow(t *testing.T) {
	svc := NewPresenceService(&fakeDB{}, newFakeRedis(), presenceTestConfig())

	for _, days := range []int{0, -1, 366} {
		if _, err := svc.HourlyAggregate(context.Background(), uuid.New(), days); !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("days=%d: expected ErrInvalidWindow, got %v", days, err)
		}
	}
}

func TestPresenceService_HourlyAggregate(t *testing.T) {
	now := time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC)
	pinPresenceNow(t, now)

	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			if args[1] != "2026-08-23" || args[2] != "2026-08-29" {
				t.Errorf("unexpected window bounds: %v .. %v", args[1], args[2])
			}
			return &fakeRows{rows: [][]any{
				{9, int64(600)},
				{14, int64(600)},
				{23, int64(100)},
			}}, nil
		},
	}
	svc := NewPresenceService(db, newFakeRedis(), presenceTestConfig())

	agg, err := svc.HourlyAggregate(context.Background(), uuid.New(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.TotalSeconds != 1300 {
		t.Errorf("expected total 1300, got %d", agg.TotalSeconds)
	}
	if len(agg.Hours) != 24 {
		t.Fatalf("expected 24 buckets, got %d", len(agg.Hours))
	}
	if agg.Hours[9].Seconds != 600 || agg.Hours[0].Seconds != 0 {
		t.Errorf("unexpected buckets: %+v", agg.Hours)
	}
	// Ties go to the earliest hour.
	if agg.PeakHour != 9 {
		t.Errorf("expected peak hour 9, got %d", agg.PeakHour)
	}
	if agg.StartDate != "2026-08-23" || agg.EndDate != "2026-08-29" {
		t.Errorf("unexpected window: %s .. %s", agg.StartDate, agg.EndDate)
	}
}

func TestPresenceService_HourlyAggregate_NoSamples(t *testing.T) {
	pinPresenceNow(t, time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC))

	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{}, nil
		},
	}
	svc := NewPresenceService(db, newFakeRedis(), presenceTestConfig())

	agg, err := svc.HourlyAggregate(context.Background(), uuid.New(), 30)
	if err != nil {
		t.Fatalf("expected empty window to succeed, got %v", err)
	}
	if agg.TotalSeconds != 0 {
		t.Errorf("expected zero total, got %d", agg.TotalSeconds)
	}
	if agg.PeakHour != 0 {
		t.Errorf("expected peak hour 0 for empty window, got %d", agg.PeakHour)
	}
	for _, bucket := range agg.Hours {
		if bucket.Seconds != 0 {
			t.Errorf("expected all-zero buckets, got %+v", bucket)
		}
	}
}

func TestPresenceService_DailyAggregate(t *testing.T) {
	pinPresenceNow(t, time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC))

	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{rows: [][]any{
				{time.Date(2026, time.August, 27, 0, 0, 0, 0, time.UTC), int64(900)},
				{time.Date(2026, time.August, 28, 0, 0, 0, 0, time.UTC), int64(900)},
			}}, nil
		},
	}
	svc := NewPresenceService(db, newFakeRedis(), presenceTestConfig())

	agg, err := svc.DailyAggregate(context.Background(), uuid.New(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agg.Buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(agg.Buckets))
	}
	if agg.Buckets[0].Date != "2026-08-27" || agg.Buckets[2].Date != "2026-08-29" {
		t.Errorf("unexpected date order: %+v", agg.Buckets)
	}
	if agg.Buckets[2].Seconds != 0 {
		t.Errorf("expected zero-filled trailing day, got %d", agg.Buckets[2].Seconds)
	}
	if agg.TotalSeconds != 1800 {
		t.Errorf("expected total 1800, got %d", agg.TotalSeconds)
	}
	// Ties go to the earliest date.
	if agg.PeakDate != "2026-08-27" {
		t.Errorf("expected peak 2026-08-27, got %s", agg.PeakDate)
	}
}

func TestPresenceService_Status(t *testing.T) {
	userID := uuid.New()
	redisClient := newFakeRedis()
	svc := NewPresenceService(&fakeDB{}, redisClient, presenceTestConfig())

	online, lastSeen, err := svc.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if online || lastSeen != nil {
		t.Errorf("expected offline with no last seen, got %v %v", online, lastSeen)
	}

	seen := time.Date(2026, time.August, 29, 9, 0, 0, 0, time.UTC)
	redisClient.data[onlineKeyPrefix+userID.String()] = "1"
	redisClient.data[lastSeenKeyPrefix+userID.String()] = seen.Format(time.RFC3339)

	online, lastSeen, err = svc.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !online {
		t.Error("expected online")
	}
	if lastSeen == nil || !lastSeen.Equal(seen) {
		t.Errorf("expected last seen %v, got %v", seen, lastSeen)
	}
}

func TestPresenceService_FriendPresence_PrivacyFiltering(t *testing.T) {
	viewerID := uuid.New()
	openFriend := uuid.New()
	anonFriend := uuid.New()
	offFriend := uuid.New()

	db := &fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{rows: [][]any{
				{openFriend, "open", nil, "friends-only"},
				{anonFriend, "anon", nil, "anonymous"},
				{offFriend, "off", nil, "off"},
			}}, nil
		},
	}
	redisClient := newFakeRedis()
	for _, id := range []uuid.UUID{openFriend, anonFriend, offFriend} {
		redisClient.data[onlineKeyPrefix+id.String()] = "1"
		redisClient.data[activityKeyPrefix+id.String()] = "playing"
	}
	svc := NewPresenceService(db, redisClient, presenceTestConfig())

	friends, err := svc.FriendPresence(context.Background(), viewerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(friends) != 3 {
		t.Fatalf("expected 3 friends, got %d", len(friends))
	}

	byName := map[string]models.FriendPresence{}
	for _, f := range friends {
		byName[f.Username] = f
	}

	if !byName["open"].Online || byName["open"].Activity != "playing" {
		t.Errorf("friends-only friend should expose presence, got %+v", byName["open"])
	}
	if !byName["anon"].Online || byName["anon"].Activity != "" {
		t.Errorf("anonymous friend should hide activity, got %+v", byName["anon"])
	}
	if byName["off"].Online || byName["off"].Activity != "" {
		t.Errorf("off friend should read offline, got %+v", byName["off"])
	}
}

func TestPresenceService_GetSettings_Default(t *testing.T) {
	db := &fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	svc := NewPresenceService(db, newFakeRedis(), presenceTestConfig())

	settings, err := svc.GetSettings(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Privacy != models.PrivacyFriendsOnly {
		t.Errorf("expected friends-only default, got %s", settings.Privacy)
	}
}

func TestPresenceService_UpdatePrivacy_Invalid(t *testing.T) {
	svc := NewPresenceService(&fakeDB{}, newFakeRedis(), presenceTestConfig())

	err := svc.UpdatePrivacy(context.Background(), uuid.New(), models.PrivacyLevel("loud"))
	if !errors.Is(err, ErrInvalidPrivacyLevel) {
		t.Fatalf("expected ErrInvalidPrivacyLevel, got %v", err)
	}
}

func TestPresenceService_CleanupOld(t *testing.T) {
	pinPresenceNow(t, time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC))

	var gotCutoff string
	db := &fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			gotCutoff = args[0].(string)
			return fakeCommandTag{}, nil
		},
	}
	cfg := presenceTestConfig()
	cfg.RetentionDays = 30
	svc := NewPresenceService(db, newFakeRedis(), cfg)

	if err := svc.CleanupOld(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotCutoff != "2026-07-30" {
		t.Errorf("expected cutoff 2026-07-30, got %s", gotCutoff)
	}
}
