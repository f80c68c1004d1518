package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/model"
	"github.com/careline/bookingbot/internal/repository"
	apperrors "github.com/careline/bookingbot/pkg/errors"
	"github.com/careline/bookingbot/pkg/logger"
)

// Service looks up and registers patients from details collected in
// conversation.
type Service struct {
	patients repository.PatientRepository
	logger   *logger.Logger
}

func NewService(patients repository.PatientRepository, l *logger.Logger) *Service {
	return &Service{
		patients: patients,
		logger:   l.WithComponent("patient"),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	return s.patients.Get(ctx, id)
}

// FindByDetails matches a patient by name and phone, with date of birth
// as an optional tiebreaker. Returns (nil, nil) when no patient matches.
func (s *Service) FindByDetails(ctx context.Context, name, phone string, dateOfBirth *time.Time) (*model.Patient, error) {
	return s.patients.FindByDetails(ctx, name, dateOfBirth, phone)
}

// FindOrCreate resolves the caller to an existing patient record or
// registers a new one from the collected details. A miss is expected
// here, so a typed not-found from the repository counts as a miss too.
func (s *Service) FindOrCreate(ctx context.Context, name, phone string, dateOfBirth *time.Time) (*model.Patient, error) {
	existing, err := s.patients.FindByDetails(ctx, name, dateOfBirth, phone)
	if err != nil && !apperrors.IsCode(err, apperrors.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	p := &model.Patient{
		Base:        model.Base{ID: uuid.New()},
		Name:        name,
		Phone:       phone,
		DateOfBirth: dateOfBirth,
		Status:      model.PatientStatusActive,
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to register patient: %w", err)
	}
	s.logger.Info("registered new patient", "patient_id", p.ID.String())
	return p, nil
}
