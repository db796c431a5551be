package account

import "context"

// PartyReader abstracts repository operations for the service.
type PartyReader interface {
	GetByID(ctx context.Context, id string) (Party, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, limit int) ([]Party, error)
}

// Service exposes party lookups; it also serves as the state machine's
// party directory when creating transactions.
type Service struct {
	repo PartyReader
}

func NewService(repo PartyReader) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByID(ctx context.Context, id string) (Party, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	return s.repo.Exists(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]Party, error) {
	return s.repo.List(ctx, limit)
}
