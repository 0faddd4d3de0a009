package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/beaconlabs/beacon/internal/models"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUsernameAlreadyExists = errors.New("username already taken")
	ErrInvalidUsername       = errors.New("invalid username")
	ErrInvalidDisplayName    = errors.New("invalid display name")
)

const (
	UsernameMinLength    = 3
	UsernameMaxLength    = 32
	DisplayNameMaxLength = 64
	SearchQueryMinLength = 2
	SearchResultLimit    = 20
)

// UserServiceInterface is the identity surface handlers and views depend on.
type UserServiceInterface interface {
	Create(ctx context.Context, params models.CreateUserParams) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Search(ctx context.Context, viewerID uuid.UUID, query string) ([]models.UserSearchResult, error)
	UpdateDisplayName(ctx context.Context, userID uuid.UUID, displayName *string) error
}

type UserService struct {
	db DBConn
}

func NewUserService(db DBConn) *UserService {
	return &UserService{db: db}
}

func (s *UserService) Create(ctx context.Context, params models.CreateUserParams) (*models.User, error) {
	username := strings.TrimSpace(params.Username)
	if len(username) < UsernameMinLength || len(username) > UsernameMaxLength {
		return nil, ErrInvalidUsername
	}

	// Check if username already exists (case-insensitive)
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))", username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking username existence: %w", err)
	}
	if exists {
		return nil, ErrUsernameAlreadyExists
	}

	user := &models.User{}
	err = s.db.QueryRow(ctx,
		`INSERT INTO users (username, display_name, email, password_hash, searchable)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, username, display_name, email, password_hash, searchable, created_at, updated_at`,
		username, params.DisplayName, params.Email, params.PasswordHash, params.Searchable,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Searchable, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(ctx,
		`SELECT id, username, display_name, email, password_hash, searchable, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Searchable, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by id: %w", err)
	}

	return user, nil
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRow(ctx,
		`SELECT id, username, display_name, email, password_hash, searchable, created_at, updated_at
		 FROM users WHERE LOWER(username) = LOWER($1)`,
		username,
	).Scan(&user.ID, &user.Username, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Searchable, &user.CreatedAt, &user.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}

	return user, nil
}

// Search matches usernames and display names, excluding the viewer and users
// who opted out of search. Queries below the minimum length return an empty
// list rather than an error.
func (s *UserService) Search(ctx context.Context, viewerID uuid.UUID, query string) ([]models.UserSearchResult, error) {
	query = strings.TrimSpace(query)
	if len(query) < SearchQueryMinLength {
		return []models.UserSearchResult{}, nil
	}

	pattern := "%" + escapeLikePattern(query) + "%"
	rows, err := s.db.Query(ctx,
		`SELECT id, username, display_name
		 FROM users
		 WHERE id != $1
		   AND searchable = true
		   AND (username ILIKE $2 OR display_name ILIKE $2)
		 ORDER BY username ASC
		 LIMIT $3`,
		viewerID, pattern, SearchResultLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	results := []models.UserSearchResult{}
	for rows.Next() {
		var result models.UserSearchResult
		if err := rows.Scan(&result.ID, &result.Username, &result.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

func (s *UserService) UpdateDisplayName(ctx context.Context, userID uuid.UUID, displayName *string) error {
	if displayName != nil {
		trimmed := strings.TrimSpace(*displayName)
		if trimmed == "" {
			displayName = nil
		} else {
			if len(trimmed) > DisplayNameMaxLength {
				return ErrInvalidDisplayName
			}
			displayName = &trimmed
		}
	}

	result, err := s.db.Exec(ctx,
		`UPDATE users SET display_name = $1, updated_at = NOW() WHERE id = $2`,
		displayName, userID,
	)
	if err != nil {
		return fmt.Errorf("updating display name: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
