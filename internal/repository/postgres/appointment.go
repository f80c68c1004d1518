package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, doctor_id, date, start_time, end_time,
			slot_count, status, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	now := time.Now()
	appointment.CreatedAt = now
	appointment.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.PatientID,
		appointment.DoctorID,
		appointment.Date.Format(model.DateOnly),
		appointment.StartTime,
		appointment.EndTime,
		appointment.SlotCount,
		appointment.Status,
		appointment.Reason,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `
		SELECT id, patient_id, doctor_id, date, start_time, end_time,
		       slot_count, status, reason, cancelled_at, cancel_reason,
		       created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	var appointment model.Appointment
	err := r.db.GetContext(ctx, &appointment, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("appointment", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) Update(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET date = $1, start_time = $2, end_time = $3, slot_count = $4,
		    status = $5, cancelled_at = $6, cancel_reason = $7, updated_at = $8
		WHERE id = $9
	`
	appointment.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		appointment.Date.Format(model.DateOnly),
		appointment.StartTime,
		appointment.EndTime,
		appointment.SlotCount,
		appointment.Status,
		appointment.CancelledAt,
		appointment.CancelReason,
		appointment.UpdatedAt,
		appointment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("appointment", nil)
	}
	return nil
}

// Cancel flips the appointment to its cancelled state and hands the
// slots back inside one transaction, mirroring Rebook on the slot side.
func (r *appointmentRepository) Cancel(ctx context.Context, appointment *model.Appointment) error {
	appointment.UpdatedAt = time.Now()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		update := `
			UPDATE appointments
			SET status = $1, cancelled_at = $2, cancel_reason = $3, updated_at = $4
			WHERE id = $5
		`
		result, err := tx.ExecContext(ctx, update,
			appointment.Status,
			appointment.CancelledAt,
			appointment.CancelReason,
			appointment.UpdatedAt,
			appointment.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel appointment: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return apperrors.NewNotFound("appointment", nil)
		}

		release := `
			UPDATE slots
			SET status = $1, appointment_id = NULL
			WHERE appointment_id = $2
		`
		if _, err := tx.ExecContext(ctx, release, model.SlotStatusAvailable, appointment.ID); err != nil {
			return fmt.Errorf("failed to release slots: %w", err)
		}
		return nil
	})
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM appointments WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperrors.NewNotFound("appointment", nil)
	}
	return nil
}

// HasPatientOverlap checks the three overlap shapes: new contains
// existing, existing contains new, and partial overlap on either edge.
func (r *appointmentRepository) HasPatientOverlap(ctx context.Context, patientID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1
			AND status NOT IN ('cancelled', 'completed', 'no_show')
			AND (
				(start_time <= $2 AND end_time > $2)
				OR (start_time < $3 AND end_time >= $3)
				OR (start_time >= $2 AND end_time <= $3)
			)
	`
	args := []interface{}{patientID, start, end}

	if excludeID != nil {
		query += " AND id != $4"
		args = append(args, *excludeID)
	}
	query += ")"

	var hasOverlap bool
	if err := r.db.GetContext(ctx, &hasOverlap, query, args...); err != nil {
		return false, fmt.Errorf("failed to check patient overlap: %w", err)
	}
	return hasOverlap, nil
}

func (r *appointmentRepository) CountForPatientOnDate(ctx context.Context, patientID uuid.UUID, date time.Time, excludeID *uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM appointments
		WHERE patient_id = $1 AND date = $2
		AND status NOT IN ('cancelled', 'no_show')
	`
	args := []interface{}{patientID, date.Format(model.DateOnly)}

	if excludeID != nil {
		query += " AND id != $3"
		args = append(args, *excludeID)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count patient appointments: %w", err)
	}
	return count, nil
}

func (r *appointmentRepository) ListUpcomingForPatient(ctx context.Context, patientID uuid.UUID, from time.Time) ([]*model.Appointment, error) {
	query := `
		SELECT id, patient_id, doctor_id, date, start_time, end_time,
		       slot_count, status, reason, cancelled_at, cancel_reason,
		       created_at, updated_at
		FROM appointments
		WHERE patient_id = $1
		AND start_time >= $2
		AND status NOT IN ('cancelled', 'completed', 'no_show')
		ORDER BY start_time ASC
	`
	var appointments []*model.Appointment
	if err := r.db.SelectContext(ctx, &appointments, query, patientID, from); err != nil {
		return nil, fmt.Errorf("failed to list upcoming appointments: %w", err)
	}
	return appointments, nil
}
