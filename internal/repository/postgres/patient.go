package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, name, date_of_birth, phone, email, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	now := time.Now()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		patient.ID,
		patient.Name,
		patient.DateOfBirth,
		patient.Phone,
		patient.Email,
		patient.Status,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `
		SELECT id, name, date_of_birth, phone, email, status,
		       created_at, updated_at
		FROM patients
		WHERE id = $1
	`
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("patient", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients
		SET name = $1, date_of_birth = $2, phone = $3, email = $4,
		    status = $5, updated_at = $6
		WHERE id = $7
	`
	patient.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		patient.Name,
		patient.DateOfBirth,
		patient.Phone,
		patient.Email,
		patient.Status,
		patient.UpdatedAt,
		patient.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("patient", nil)
	}
	return nil
}

// FindByDetails matches on case-insensitive name plus phone, narrowing
// by date of birth when the caller has one. A miss is (nil, nil): an
// unknown caller is a registration, not a failure.
func (r *patientRepository) FindByDetails(ctx context.Context, name string, dateOfBirth *time.Time, phone string) (*model.Patient, error) {
	query := `
		SELECT id, name, date_of_birth, phone, email, status,
		       created_at, updated_at
		FROM patients
		WHERE LOWER(name) = LOWER($1) AND phone = $2
	`
	args := []interface{}{name, phone}

	if dateOfBirth != nil {
		query += " AND date_of_birth = $3"
		args = append(args, dateOfBirth.Format(model.DateOnly))
	}

	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find patient: %w", err)
	}
	return &patient, nil
}
