package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// EnrollmentRepository persists journey enrollments. Due rows are claimed
// with a lease so concurrent scheduler workers never execute the same
// enrollment's step twice.
type EnrollmentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEnrollmentRepository creates an enrollment repository.
func NewEnrollmentRepository(db *DB, logger *zap.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{
		db:     db,
		logger: logger,
	}
}

const enrollmentColumns = `
	id, journey_id, user_id, related_entity_id, status, current_step_id,
	next_execution_at, completed_step_ids, sent_message_ids, context,
	claimed_until, exit_reason, enrolled_at, completed_at, exited_at,
	created_at, updated_at`

func scanEnrollment(row pgx.Row) (*Enrollment, error) {
	var (
		e         Enrollment
		completed []byte
		sent      []byte
		enrCtx    []byte
	)
	err := row.Scan(
		&e.ID,
		&e.JourneyID,
		&e.UserID,
		&e.RelatedEntityID,
		&e.Status,
		&e.CurrentStepID,
		&e.NextExecutionAt,
		&completed,
		&sent,
		&enrCtx,
		&e.ClaimedUntil,
		&e.ExitReason,
		&e.EnrolledAt,
		&e.CompletedAt,
		&e.ExitedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(completed) > 0 {
		if err := json.Unmarshal(completed, &e.CompletedStepIDs); err != nil {
			return nil, fmt.Errorf("unmarshal completed steps: %w", err)
		}
	}
	if len(sent) > 0 {
		if err := json.Unmarshal(sent, &e.SentMessageIDs); err != nil {
			return nil, fmt.Errorf("unmarshal sent messages: %w", err)
		}
	}
	if len(enrCtx) > 0 {
		if err := json.Unmarshal(enrCtx, &e.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}

	return &e, nil
}

// CreateEnrollment inserts a new enrollment.
func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, e *Enrollment) error {
	completed, err := json.Marshal(e.CompletedStepIDs)
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}
	sent, err := json.Marshal(e.SentMessageIDs)
	if err != nil {
		return fmt.Errorf("marshal sent messages: %w", err)
	}
	enrCtx, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		INSERT INTO enrollments (
			id, journey_id, user_id, related_entity_id, status,
			current_step_id, next_execution_at, completed_step_ids,
			sent_message_ids, context, enrolled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		e.ID,
		e.JourneyID,
		e.UserID,
		e.RelatedEntityID,
		e.Status,
		e.CurrentStepID,
		e.NextExecutionAt,
		completed,
		sent,
		enrCtx,
		e.EnrolledAt,
	).Scan(&e.CreatedAt, &e.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create enrollment",
			zap.Error(err),
			zap.String("enrollment_id", e.ID.String()),
			zap.String("journey_id", e.JourneyID.String()),
		)
		return fmt.Errorf("insert enrollment: %w", err)
	}

	return nil
}

// GetEnrollment retrieves an enrollment by ID.
func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	query := `SELECT` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	e, err := scanEnrollment(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrEnrollmentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query enrollment: %w", err)
	}

	return e, nil
}

// GetLatestByUserAndJourney returns the most recent enrollment of a user
// in a journey, in any state. Used for re-entry cooldown checks.
func (r *EnrollmentRepository) GetLatestByUserAndJourney(ctx context.Context, userID, journeyID uuid.UUID) (*Enrollment, error) {
	query := `
		SELECT` + enrollmentColumns + `
		FROM enrollments
		WHERE user_id = $1 AND journey_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	e, err := scanEnrollment(r.db.Pool().QueryRow(ctx, query, userID, journeyID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest enrollment: %w", err)
	}

	return e, nil
}

// ListActiveByUser returns every active enrollment for a user.
func (r *EnrollmentRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*Enrollment, error) {
	query := `
		SELECT` + enrollmentColumns + `
		FROM enrollments
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, EnrollmentActive)
	if err != nil {
		return nil, fmt.Errorf("query active enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return enrollments, nil
}

// ClaimDue leases due active enrollments for processing. The conditional
// update guarantees at-most-one concurrent execution per enrollment: a
// row already holding a live lease is skipped.
func (r *EnrollmentRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*Enrollment, error) {
	query := `
		UPDATE enrollments
		SET claimed_until = NOW() + make_interval(secs => $1), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM enrollments
			WHERE status = $2
			  AND next_execution_at <= NOW()
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY next_execution_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + enrollmentColumns

	rows, err := r.db.Pool().Query(ctx, query, lease.Seconds(), EnrollmentActive, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return enrollments, nil
}

// UpdateEnrollment persists an enrollment's progress and releases its
// lease. The write is the durable record of step completion: the next
// step cannot start before it lands.
func (r *EnrollmentRepository) UpdateEnrollment(ctx context.Context, e *Enrollment) error {
	completed, err := json.Marshal(e.CompletedStepIDs)
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}
	sent, err := json.Marshal(e.SentMessageIDs)
	if err != nil {
		return fmt.Errorf("marshal sent messages: %w", err)
	}
	enrCtx, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	query := `
		UPDATE enrollments
		SET status = $1,
		    current_step_id = $2,
		    next_execution_at = $3,
		    completed_step_ids = $4,
		    sent_message_ids = $5,
		    context = $6,
		    claimed_until = NULL,
		    exit_reason = $7,
		    completed_at = $8,
		    exited_at = $9,
		    updated_at = NOW()
		WHERE id = $10
	`

	result, err := r.db.Pool().Exec(
		ctx,
		query,
		e.Status,
		e.CurrentStepID,
		e.NextExecutionAt,
		completed,
		sent,
		enrCtx,
		e.ExitReason,
		e.CompletedAt,
		e.ExitedAt,
		e.ID,
	)
	if err != nil {
		r.logger.Error("failed to update enrollment",
			zap.Error(err),
			zap.String("enrollment_id", e.ID.String()),
		)
		return fmt.Errorf("update enrollment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("enrollment not found: %s", e.ID)
	}

	return nil
}

// ReleaseClaim clears the lease without touching progress, returning the
// enrollment to the pool for the next tick after a failed step.
func (r *EnrollmentRepository) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE enrollments SET claimed_until = NULL, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.Pool().Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release enrollment claim: %w", err)
	}
	return nil
}
