package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/template"
)

// TemplateRepository persists templates. The definition (channels,
// content blocks, variables, variants) is stored as a JSONB document;
// the hot lookup fields get their own columns.
type TemplateRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTemplateRepository creates a template repository.
func NewTemplateRepository(db *DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// CreateTemplate inserts a new template.
func (r *TemplateRepository) CreateTemplate(ctx context.Context, tpl *template.Template) error {
	definition, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshal template definition: %w", err)
	}

	query := `
		INSERT INTO templates (id, name, category, active, version, definition)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		tpl.ID,
		tpl.Name,
		string(tpl.Category),
		tpl.Active,
		tpl.Version,
		definition,
	).Scan(&tpl.CreatedAt, &tpl.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create template",
			zap.Error(err),
			zap.String("template_id", tpl.ID.String()),
		)
		return fmt.Errorf("insert template: %w", err)
	}

	return nil
}

// GetTemplate retrieves a template by ID.
func (r *TemplateRepository) GetTemplate(ctx context.Context, id uuid.UUID) (*template.Template, error) {
	query := `
		SELECT definition, active, version, created_at, updated_at
		FROM templates
		WHERE id = $1
	`

	var (
		definition []byte
		tpl        template.Template
	)
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&definition,
		&tpl.Active,
		&tpl.Version,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("template %s: %w", id, template.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}

	active, version := tpl.Active, tpl.Version
	createdAt, updatedAt := tpl.CreatedAt, tpl.UpdatedAt
	if err := json.Unmarshal(definition, &tpl); err != nil {
		return nil, fmt.Errorf("unmarshal template definition: %w", err)
	}
	// Column values win over the snapshot inside the document.
	tpl.Active = active
	tpl.Version = version
	tpl.CreatedAt = createdAt
	tpl.UpdatedAt = updatedAt

	return &tpl, nil
}

// SetTemplateActive flips a template's active flag and bumps the version.
func (r *TemplateRepository) SetTemplateActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE templates
		SET active = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("update template active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("template %s: %w", id, template.ErrNotFound)
	}

	return nil
}
