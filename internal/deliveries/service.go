package deliveries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coopledger/coopledger/internal/masterdata"
)

// RepositoryPort defines data access methods for deliveries.
type RepositoryPort interface {
	Create(ctx context.Context, d Delivery) (Delivery, error)
	Get(ctx context.Context, id string) (Delivery, error)
	GetWithContext(ctx context.Context, id string) (DeliveryWithContext, error)
	ListByGroup(ctx context.Context, groupID string, limit int) ([]Delivery, error)
}

// FarmerPort resolves farmers to their owning group.
type FarmerPort interface {
	GetFarmer(ctx context.Context, id string) (masterdata.Farmer, error)
}

// Service handles delivery business logic.
type Service struct {
	repo    RepositoryPort
	farmers FarmerPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, farmers FarmerPort) *Service {
	return &Service{repo: repo, farmers: farmers}
}

// RecordDelivery validates and persists a delivery handed over by a farmer.
// The owning group is resolved from the farmer record.
func (s *Service) RecordDelivery(ctx context.Context, input CreateDeliveryInput) (Delivery, error) {
	if input.FarmerID == "" {
		return Delivery{}, errors.New("farmer ID required")
	}
	if input.OfficerID == "" {
		return Delivery{}, errors.New("officer ID required")
	}
	if input.WeightKG <= 0 {
		return Delivery{}, errors.New("weight must be positive")
	}
	if input.UnitPrice <= 0 {
		return Delivery{}, errors.New("unit price must be positive")
	}

	farmer, err := s.farmers.GetFarmer(ctx, input.FarmerID)
	if err != nil {
		if errors.Is(err, masterdata.ErrNotFound) {
			return Delivery{}, errors.New("farmer does not exist")
		}
		return Delivery{}, fmt.Errorf("resolve farmer: %w", err)
	}

	return s.repo.Create(ctx, Delivery{
		ID:        uuid.NewString(),
		FarmerID:  farmer.ID,
		GroupID:   farmer.GroupID,
		WeightKG:  input.WeightKG,
		UnitPrice: input.UnitPrice,
		OfficerID: input.OfficerID,
		Note:      input.Note,
		CreatedAt: time.Now().UTC(),
	})
}

// GetDelivery returns a delivery with relational context, falling back to the
// bare row when the joined lookup fails.
func (s *Service) GetDelivery(ctx context.Context, id string) (DeliveryWithContext, error) {
	full, err := s.repo.GetWithContext(ctx, id)
	if err == nil {
		return full, nil
	}
	if errors.Is(err, ErrNotFound) {
		return DeliveryWithContext{}, err
	}
	bare, bareErr := s.repo.Get(ctx, id)
	if bareErr != nil {
		return DeliveryWithContext{}, bareErr
	}
	return DeliveryWithContext{Delivery: bare}, nil
}

// ListGroupDeliveries returns recent deliveries for a group.
func (s *Service) ListGroupDeliveries(ctx context.Context, groupID string, limit int) ([]Delivery, error) {
	if groupID == "" {
		return nil, errors.New("group ID required")
	}
	return s.repo.ListByGroup(ctx, groupID, limit)
}
