package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

const doctorColumns = `
	id, name, department, email, slots_per_appointment,
	max_appointments_per_day, is_active, weekly_schedule, exceptions,
	created_at, updated_at
`

func (r *doctorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	query := `SELECT ` + doctorColumns + ` FROM doctors WHERE id = $1`

	var doctor model.Doctor
	err := r.db.GetContext(ctx, &doctor, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("doctor", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	if err := unmarshalScheduleFields(&doctor); err != nil {
		return nil, err
	}
	return &doctor, nil
}

func (r *doctorRepository) List(ctx context.Context, activeOnly bool) ([]*model.Doctor, error) {
	query := `SELECT ` + doctorColumns + ` FROM doctors`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY name ASC`

	var doctors []*model.Doctor
	if err := r.db.SelectContext(ctx, &doctors, query); err != nil {
		return nil, fmt.Errorf("failed to list doctors: %w", err)
	}
	for _, doctor := range doctors {
		if err := unmarshalScheduleFields(doctor); err != nil {
			return nil, err
		}
	}
	return doctors, nil
}

func (r *doctorRepository) SearchByName(ctx context.Context, name string) ([]*model.Doctor, error) {
	query := `
		SELECT ` + doctorColumns + `
		FROM doctors
		WHERE is_active = true AND name ILIKE '%' || $1 || '%'
		ORDER BY name ASC
	`
	var doctors []*model.Doctor
	if err := r.db.SelectContext(ctx, &doctors, query, name); err != nil {
		return nil, fmt.Errorf("failed to search doctors: %w", err)
	}
	for _, doctor := range doctors {
		if err := unmarshalScheduleFields(doctor); err != nil {
			return nil, err
		}
	}
	return doctors, nil
}

func (r *doctorRepository) ListByDepartment(ctx context.Context, department string) ([]*model.Doctor, error) {
	query := `
		SELECT ` + doctorColumns + `
		FROM doctors
		WHERE is_active = true AND department ILIKE $1
		ORDER BY name ASC
	`
	var doctors []*model.Doctor
	if err := r.db.SelectContext(ctx, &doctors, query, department); err != nil {
		return nil, fmt.Errorf("failed to list doctors by department: %w", err)
	}
	for _, doctor := range doctors {
		if err := unmarshalScheduleFields(doctor); err != nil {
			return nil, err
		}
	}
	return doctors, nil
}

func (r *doctorRepository) ListDepartments(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT department
		FROM doctors
		WHERE is_active = true
		ORDER BY department ASC
	`
	var departments []string
	if err := r.db.SelectContext(ctx, &departments, query); err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	return departments, nil
}

func unmarshalScheduleFields(doctor *model.Doctor) error {
	if len(doctor.ScheduleJSON) > 0 {
		if err := json.Unmarshal(doctor.ScheduleJSON, &doctor.WeeklySchedule); err != nil {
			return fmt.Errorf("failed to unmarshal weekly schedule for doctor %s: %w", doctor.ID, err)
		}
	}
	if len(doctor.ExceptionsJSON) > 0 {
		if err := json.Unmarshal(doctor.ExceptionsJSON, &doctor.Exceptions); err != nil {
			return fmt.Errorf("failed to unmarshal exceptions for doctor %s: %w", doctor.ID, err)
		}
	}
	return nil
}
