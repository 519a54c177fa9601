package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// JourneyRepository persists journey definitions. Trigger, steps, and
// settings live in JSONB columns; definitions are immutable after
// creation apart from the active flag.
type JourneyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewJourneyRepository creates a journey repository.
func NewJourneyRepository(db *DB, logger *zap.Logger) *JourneyRepository {
	return &JourneyRepository{
		db:     db,
		logger: logger,
	}
}

// CreateJourney inserts a new journey definition.
func (r *JourneyRepository) CreateJourney(ctx context.Context, j *Journey) error {
	trigger, err := json.Marshal(j.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	steps, err := json.Marshal(j.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	settings, err := json.Marshal(j.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	query := `
		INSERT INTO journeys (id, name, description, trigger, steps, settings, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		j.ID,
		j.Name,
		j.Description,
		trigger,
		steps,
		settings,
		j.Active,
	).Scan(&j.CreatedAt, &j.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create journey",
			zap.Error(err),
			zap.String("journey_id", j.ID.String()),
		)
		return fmt.Errorf("insert journey: %w", err)
	}

	return nil
}

const journeyColumns = `id, name, description, trigger, steps, settings, active, created_at, updated_at`

func scanJourney(row pgx.Row) (*Journey, error) {
	var (
		j        Journey
		trigger  []byte
		steps    []byte
		settings []byte
	)
	err := row.Scan(
		&j.ID,
		&j.Name,
		&j.Description,
		&trigger,
		&steps,
		&settings,
		&j.Active,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(trigger, &j.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(steps, &j.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal(settings, &j.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return &j, nil
}

// GetJourney retrieves a journey by ID.
func (r *JourneyRepository) GetJourney(ctx context.Context, id uuid.UUID) (*Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1`

	j, err := scanJourney(r.db.Pool().QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJourneyNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query journey: %w", err)
	}

	return j, nil
}

// ListActiveByTriggerEvent returns active journeys whose trigger matches
// the given event type.
func (r *JourneyRepository) ListActiveByTriggerEvent(ctx context.Context, eventType string) ([]*Journey, error) {
	query := `
		SELECT ` + journeyColumns + `
		FROM journeys
		WHERE active = TRUE
		  AND trigger->>'type' = $1
		  AND trigger->>'event_type' = $2
	`

	rows, err := r.db.Pool().Query(ctx, query, string(TriggerEvent), eventType)
	if err != nil {
		return nil, fmt.Errorf("query journeys by trigger: %w", err)
	}
	defer rows.Close()

	var journeys []*Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journey: %w", err)
		}
		journeys = append(journeys, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return journeys, nil
}

// ListActive returns every active journey definition.
func (r *JourneyRepository) ListActive(ctx context.Context) ([]*Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE active = TRUE ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active journeys: %w", err)
	}
	defer rows.Close()

	var journeys []*Journey
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journey: %w", err)
		}
		journeys = append(journeys, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return journeys, nil
}
