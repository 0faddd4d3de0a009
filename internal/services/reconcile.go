package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/beaconlabs/beacon/internal/models"
)

// ReconcileServiceInterface is the candidate-list read model handlers use.
type ReconcileServiceInterface interface {
	Search(ctx context.Context, viewerID uuid.UUID, query string) ([]models.Candidate, error)
	Refresh(ctx context.Context, viewerID, targetID uuid.UUID) (*models.Candidate, error)
}

// ReconcileService merges user search results with the ledger's derived
// status so each candidate carries exactly one permitted action. Status is
// always re-derived from the ledger, never cached across calls; after a
// mutation the caller refreshes just the affected candidate.
type ReconcileService struct {
	users  UserServiceInterface
	ledger FriendServiceInterface
}

func NewReconcileService(users UserServiceInterface, ledger FriendServiceInterface) *ReconcileService {
	return &ReconcileService{users: users, ledger: ledger}
}

func (s *ReconcileService) Search(ctx context.Context, viewerID uuid.UUID, query string) ([]models.Candidate, error) {
	results, err := s.users.Search(ctx, viewerID, query)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, 0, len(results))
	for _, result := range results {
		status, err := s.ledger.GetStatus(ctx, viewerID, result.ID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, models.Candidate{
			UserSearchResult: result,
			Status:           status,
			Action:           models.ActionForStatus(status),
		})
	}
	return candidates, nil
}

// Refresh re-derives a single candidate after a mutating action.
func (s *ReconcileService) Refresh(ctx context.Context, viewerID, targetID uuid.UUID) (*models.Candidate, error) {
	user, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	status, err := s.ledger.GetStatus(ctx, viewerID, targetID)
	if err != nil {
		return nil, err
	}

	return &models.Candidate{
		UserSearchResult: models.UserSearchResult{
			ID:          user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
		},
		Status: status,
		Action: models.ActionForStatus(status),
	}, nil
}
