package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careline/bookingbot/internal/model"
	apperrors "github.com/careline/bookingbot/pkg/errors"
)

func (r *slotRepository) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	query := `
		SELECT id, doctor_id, date, slot_number, start_time, end_time,
		       status, appointment_id, created_at
		FROM slots
		WHERE doctor_id = $1 AND date = $2
		ORDER BY slot_number ASC
	`
	var slots []*model.Slot
	err := r.db.SelectContext(ctx, &slots, query, doctorID, date.Format(model.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Slot, error) {
	query := `
		SELECT id, doctor_id, date, slot_number, start_time, end_time,
		       status, appointment_id, created_at
		FROM slots
		WHERE doctor_id = $1 AND date = $2 AND status = $3
		ORDER BY slot_number ASC
	`
	var slots []*model.Slot
	err := r.db.SelectContext(ctx, &slots, query, doctorID, date.Format(model.DateOnly), model.SlotStatusAvailable)
	if err != nil {
		return nil, fmt.Errorf("failed to list available slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Slot, error) {
	query := `
		SELECT id, doctor_id, date, slot_number, start_time, end_time,
		       status, appointment_id, created_at
		FROM slots
		WHERE appointment_id = $1
		ORDER BY slot_number ASC
	`
	var slots []*model.Slot
	err := r.db.SelectContext(ctx, &slots, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointment slots: %w", err)
	}
	return slots, nil
}

func (r *slotRepository) BulkCreate(ctx context.Context, slots []*model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	query := `
		INSERT INTO slots (
			id, doctor_id, date, slot_number, start_time, end_time,
			status, appointment_id, created_at
		) VALUES (
			:id, :doctor_id, :date, :slot_number, :start_time, :end_time,
			:status, :appointment_id, :created_at
		)
	`
	now := time.Now()
	for _, slot := range slots {
		if slot.ID == uuid.Nil {
			slot.ID = uuid.New()
		}
		slot.CreatedAt = now
	}
	if _, err := r.db.NamedExecContext(ctx, query, slots); err != nil {
		return fmt.Errorf("failed to create slots: %w", err)
	}
	return nil
}

// BookRange is the single concurrency-critical operation: the target
// rows are locked with FOR UPDATE before the status check, so two
// overlapping bookings serialize and the loser sees a non-available
// slot.
func (r *slotRepository) BookRange(ctx context.Context, doctorID uuid.UUID, date time.Time, startSlot, count int, appointmentID uuid.UUID) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return bookRangeTx(ctx, tx, doctorID, date, startSlot, count, appointmentID)
	})
}

func (r *slotRepository) ReleaseByAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	query := `
		UPDATE slots
		SET status = $1, appointment_id = NULL
		WHERE appointment_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, model.SlotStatusAvailable, appointmentID); err != nil {
		return fmt.Errorf("failed to release slots: %w", err)
	}
	return nil
}

// Rebook moves an appointment to a new range atomically. Release and
// book run in one transaction so a crash cannot strand the slots
// half-moved.
func (r *slotRepository) Rebook(ctx context.Context, appointmentID, doctorID uuid.UUID, newDate time.Time, startSlot, count int) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		release := `
			UPDATE slots
			SET status = $1, appointment_id = NULL
			WHERE appointment_id = $2
		`
		if _, err := tx.ExecContext(ctx, release, model.SlotStatusAvailable, appointmentID); err != nil {
			return fmt.Errorf("failed to release slots: %w", err)
		}
		return bookRangeTx(ctx, tx, doctorID, newDate, startSlot, count, appointmentID)
	})
}

func bookRangeTx(ctx context.Context, tx *sqlx.Tx, doctorID uuid.UUID, date time.Time, startSlot, count int, appointmentID uuid.UUID) error {
	lock := `
		SELECT id, doctor_id, date, slot_number, start_time, end_time,
		       status, appointment_id, created_at
		FROM slots
		WHERE doctor_id = $1 AND date = $2
		  AND slot_number >= $3 AND slot_number < $4
		ORDER BY slot_number ASC
		FOR UPDATE
	`
	var locked []*model.Slot
	err := tx.SelectContext(ctx, &locked, lock, doctorID, date.Format(model.DateOnly), startSlot, startSlot+count)
	if err != nil {
		return fmt.Errorf("failed to lock slot range: %w", err)
	}

	if len(locked) != count {
		return apperrors.NewSlotConflict(fmt.Sprintf("expected %d slots from %d, found %d", count, startSlot, len(locked)))
	}
	for _, slot := range locked {
		if slot.Status != model.SlotStatusAvailable {
			return apperrors.NewSlotConflict(fmt.Sprintf("slot %d is no longer available", slot.SlotNumber))
		}
	}

	book := `
		UPDATE slots
		SET status = $1, appointment_id = $2
		WHERE doctor_id = $3 AND date = $4
		  AND slot_number >= $5 AND slot_number < $6
	`
	result, err := tx.ExecContext(ctx, book, model.SlotStatusBooked, appointmentID, doctorID, date.Format(model.DateOnly), startSlot, startSlot+count)
	if err != nil {
		return fmt.Errorf("failed to book slot range: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows != int64(count) {
		return apperrors.NewSlotConflict(fmt.Sprintf("booked %d of %d slots", rows, count))
	}
	return nil
}
