package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/models"
)

var (
	ErrInvalidWindow        = errors.New("window days out of range")
	ErrInvalidHeartbeat     = errors.New("heartbeat seconds out of range")
	ErrInvalidPrivacyLevel  = errors.New("invalid privacy level")
	ErrPresenceUserNotFound = errors.New("presence user not found")
)

const (
	presenceDateLayout = "2006-01-02"

	onlineKeyPrefix   = "presence:online:"
	lastSeenKeyPrefix = "presence:last_seen:"
	activityKeyPrefix = "presence:activity:"
)

// presenceNow is swapped in tests to pin the aggregation window.
var presenceNow = time.Now

// PresenceServiceInterface is the presence surface handlers depend on.
type PresenceServiceInterface interface {
	RecordHeartbeat(ctx context.Context, userID uuid.UUID, seconds int, activity string) error
	HourlyAggregate(ctx context.Context, userID uuid.UUID, windowDays int) (*models.PresenceAggregate, error)
	DailyAggregate(ctx context.Context, userID uuid.UUID, windowDays int) (*models.DailyAggregate, error)
	Status(ctx context.Context, userID uuid.UUID) (bool, *time.Time, error)
	FriendPresence(ctx context.Context, viewerID uuid.UUID) ([]models.FriendPresence, error)
	GetSettings(ctx context.Context, userID uuid.UUID) (*models.PresenceSettings, error)
	UpdatePrivacy(ctx context.Context, userID uuid.UUID, level models.PrivacyLevel) error
}

// PresenceService turns raw heartbeat samples into bucketed aggregates and
// tracks live online state in Redis. Samples are per-hour per-day sums; the
// aggregates are recomputed on every query, never cached.
type PresenceService struct {
	db    DB
	redis RedisClient
	cfg   *config.PresenceConfig
}

func NewPresenceService(db DB, redisClient RedisClient, cfg *config.PresenceConfig) *PresenceService {
	return &PresenceService{db: db, redis: redisClient, cfg: cfg}
}

// RecordHeartbeat folds one heartbeat into the sample for the current local
// date and hour, and refreshes the caller's online marker.
func (s *PresenceService) RecordHeartbeat(ctx context.Context, userID uuid.UUID, seconds int, activity string) error {
	if seconds <= 0 || seconds > s.cfg.MaxHeartbeatSeconds {
		return ErrInvalidHeartbeat
	}

	now := presenceNow()
	_, err := s.db.Exec(ctx,
		`INSERT INTO presence_samples (user_id, day, hour, seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, day, hour)
		 DO UPDATE SET seconds = presence_samples.seconds + EXCLUDED.seconds`,
		userID, now.Format(presenceDateLayout), now.Hour(), seconds,
	)
	if err != nil {
		return fmt.Errorf("upsert presence sample: %w", err)
	}

	onlineTTL := time.Duration(s.cfg.OnlineTTLSeconds) * time.Second
	if err := s.redis.Set(ctx, onlineKeyPrefix+userID.String(), "1", onlineTTL); err != nil {
		return fmt.Errorf("set online marker: %w", err)
	}
	if err := s.redis.Set(ctx, lastSeenKeyPrefix+userID.String(), now.UTC().Format(time.RFC3339), 0); err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	if activity != "" {
		if err := s.redis.Set(ctx, activityKeyPrefix+userID.String(), activity, onlineTTL); err != nil {
			return fmt.Errorf("set activity: %w", err)
		}
	} else {
		if err := s.redis.Del(ctx, activityKeyPrefix+userID.String()); err != nil {
			return fmt.Errorf("clear activity: %w", err)
		}
	}
	return nil
}

// HourlyAggregate sums the user's samples over the trailing window into 24
// hour-of-day buckets. A user with no samples yields all-zero buckets, not an
// error, and the peak falls back to hour 0 by the first-maximum tie rule.
func (s *PresenceService) HourlyAggregate(ctx context.Context, userID uuid.UUID, windowDays int) (*models.PresenceAggregate, error) {
	start, end, err := s.windowBounds(windowDays)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT hour, SUM(seconds)
		 FROM presence_samples
		 WHERE user_id = $1 AND day >= $2 AND day <= $3
		 GROUP BY hour`,
		userID, start.Format(presenceDateLayout), end.Format(presenceDateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query hourly presence: %w", err)
	}
	defer rows.Close()

	var buckets [24]int64
	for rows.Next() {
		var hour int
		var seconds int64
		if err := rows.Scan(&hour, &seconds); err != nil {
			return nil, fmt.Errorf("scan hourly bucket: %w", err)
		}
		if hour < 0 || hour > 23 {
			return nil, fmt.Errorf("hourly bucket out of range: %d", hour)
		}
		buckets[hour] += seconds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hourly buckets: %w", err)
	}

	agg := &models.PresenceAggregate{
		Days:      windowDays,
		StartDate: start.Format(presenceDateLayout),
		EndDate:   end.Format(presenceDateLayout),
		Hours:     make([]models.HourBucket, 24),
	}
	for hour, seconds := range buckets {
		agg.Hours[hour] = models.HourBucket{Hour: hour, Seconds: seconds}
		agg.TotalSeconds += seconds
		if seconds > buckets[agg.PeakHour] {
			agg.PeakHour = hour
		}
	}
	return agg, nil
}

// DailyAggregate sums the user's samples per calendar day over the trailing
// window. Every date in the window appears exactly once, ascending.
func (s *PresenceService) DailyAggregate(ctx context.Context, userID uuid.UUID, windowDays int) (*models.DailyAggregate, error) {
	start, end, err := s.windowBounds(windowDays)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT day, SUM(seconds)
		 FROM presence_samples
		 WHERE user_id = $1 AND day >= $2 AND day <= $3
		 GROUP BY day`,
		userID, start.Format(presenceDateLayout), end.Format(presenceDateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query daily presence: %w", err)
	}
	defer rows.Close()

	byDate := map[string]int64{}
	for rows.Next() {
		var day time.Time
		var seconds int64
		if err := rows.Scan(&day, &seconds); err != nil {
			return nil, fmt.Errorf("scan daily bucket: %w", err)
		}
		byDate[day.Format(presenceDateLayout)] += seconds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily buckets: %w", err)
	}

	agg := &models.DailyAggregate{
		Days:      windowDays,
		StartDate: start.Format(presenceDateLayout),
		EndDate:   end.Format(presenceDateLayout),
		Buckets:   make([]models.DayBucket, 0, windowDays),
	}
	var peakSeconds int64
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(presenceDateLayout)
		seconds := byDate[date]
		agg.Buckets = append(agg.Buckets, models.DayBucket{Date: date, Seconds: seconds})
		agg.TotalSeconds += seconds
		if agg.PeakDate == "" || seconds > peakSeconds {
			agg.PeakDate = date
			peakSeconds = seconds
		}
	}
	return agg, nil
}

func (s *PresenceService) windowBounds(windowDays int) (time.Time, time.Time, error) {
	if windowDays <= 0 || windowDays > s.cfg.MaxWindowDays {
		return time.Time{}, time.Time{}, ErrInvalidWindow
	}
	now := presenceNow()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := end.AddDate(0, 0, -(windowDays - 1))
	return start, end, nil
}

// Status reports whether the user's online marker is live and when they were
// last seen.
func (s *PresenceService) Status(ctx context.Context, userID uuid.UUID) (bool, *time.Time, error) {
	online := true
	if _, err := s.redis.Get(ctx, onlineKeyPrefix+userID.String()); err != nil {
		if !errors.Is(err, redis.Nil) {
			return false, nil, fmt.Errorf("get online marker: %w", err)
		}
		online = false
	}

	raw, err := s.redis.Get(ctx, lastSeenKeyPrefix+userID.String())
	if errors.Is(err, redis.Nil) {
		return online, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("get last seen: %w", err)
	}
	lastSeen, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return online, nil, nil
	}
	return online, &lastSeen, nil
}

// FriendPresence lists the viewer's friends with live presence, honoring each
// friend's privacy level: "off" always reads offline, "anonymous" shows the
// online flag but hides activity.
func (s *PresenceService) FriendPresence(ctx context.Context, viewerID uuid.UUID) ([]models.FriendPresence, error) {
	rows, err := s.db.Query(ctx,
		`SELECT u.id, u.username, u.display_name, COALESCE(ps.privacy, 'friends-only')
		 FROM friendships f
		 JOIN users u ON u.id = CASE WHEN f.user_a_id = $1 THEN f.user_b_id ELSE f.user_a_id END
		 LEFT JOIN presence_settings ps ON ps.user_id = u.id
		 WHERE f.user_a_id = $1 OR f.user_b_id = $1
		 ORDER BY f.created_at ASC`,
		viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list friend presence: %w", err)
	}
	defer rows.Close()

	type friendRow struct {
		presence models.FriendPresence
		privacy  models.PrivacyLevel
	}
	friends := []friendRow{}
	for rows.Next() {
		var row friendRow
		if err := rows.Scan(&row.presence.ID, &row.presence.Username, &row.presence.DisplayName, &row.privacy); err != nil {
			return nil, fmt.Errorf("scan friend presence: %w", err)
		}
		friends = append(friends, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend presence: %w", err)
	}

	out := make([]models.FriendPresence, 0, len(friends))
	for _, row := range friends {
		fp := row.presence
		if row.privacy != models.PrivacyOff {
			online, lastSeen, err := s.Status(ctx, fp.ID)
			if err != nil {
				return nil, err
			}
			fp.Online = online
			fp.LastSeenAt = lastSeen
			if row.privacy != models.PrivacyAnonymous {
				activity, err := s.redis.Get(ctx, activityKeyPrefix+fp.ID.String())
				if err != nil && !errors.Is(err, redis.Nil) {
					return nil, fmt.Errorf("get activity: %w", err)
				}
				fp.Activity = activity
			}
		}
		out = append(out, fp)
	}
	return out, nil
}

func (s *PresenceService) GetSettings(ctx context.Context, userID uuid.UUID) (*models.PresenceSettings, error) {
	settings := &models.PresenceSettings{UserID: userID}
	err := s.db.QueryRow(ctx,
		`SELECT privacy, updated_at FROM presence_settings WHERE user_id = $1`,
		userID,
	).Scan(&settings.Privacy, &settings.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		settings.Privacy = models.PrivacyFriendsOnly
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get presence settings: %w", err)
	}
	return settings, nil
}

func (s *PresenceService) UpdatePrivacy(ctx context.Context, userID uuid.UUID, level models.PrivacyLevel) error {
	if !models.IsValidPrivacyLevel(level) {
		return ErrInvalidPrivacyLevel
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO presence_settings (user_id, privacy)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id)
		 DO UPDATE SET privacy = EXCLUDED.privacy, updated_at = NOW()`,
		userID, level,
	)
	if err != nil {
		return fmt.Errorf("update privacy: %w", err)
	}
	return nil
}

// CleanupOld drops samples past the retention window.
func (s *PresenceService) CleanupOld(ctx context.Context) error {
	cutoff := presenceNow().AddDate(0, 0, -s.cfg.RetentionDays)
	_, err := s.db.Exec(ctx,
		`DELETE FROM presence_samples WHERE day < $1`,
		cutoff.Format(presenceDateLayout),
	)
	if err != nil {
		return fmt.Errorf("cleanup presence samples: %w", err)
	}
	return nil
}
