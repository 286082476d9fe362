package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// MessageTemplate is a reusable, named message body. Name is unique;
// saving again under the same name replaces every field.
type MessageTemplate struct {
	Name            string                 `db:"name" json:"name"`
	MessageType     string                 `db:"message_type" json:"message_type"`
	TemplateContent map[string]interface{} `db:"template_content" json:"template_content"`
	Description     string                 `db:"description" json:"description"`
	IsActive        bool                   `db:"is_active" json:"is_active"`
	CreatedBy       string                 `db:"created_by" json:"created_by"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

const templateColumns = `name, message_type, template_content, description,
	       is_active, created_by, created_at, updated_at`

func scanTemplate(row rowScanner) (*MessageTemplate, error) {
	var tpl MessageTemplate
	err := row.Scan(
		&tpl.Name,
		&tpl.MessageType,
		&tpl.TemplateContent,
		&tpl.Description,
		&tpl.IsActive,
		&tpl.CreatedBy,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// UpsertTemplate inserts or replaces a message template by name
func (db *DB) UpsertTemplate(ctx context.Context, tpl *MessageTemplate) error {
	query := `
		INSERT INTO message_templates (name, message_type, template_content, description,
		                               is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			message_type = EXCLUDED.message_type,
			template_content = EXCLUDED.template_content,
			description = EXCLUDED.description,
			is_active = EXCLUDED.is_active,
			created_by = EXCLUDED.created_by,
			updated_at = NOW()
	`

	_, err := db.pool.Exec(ctx, query,
		tpl.Name,
		tpl.MessageType,
		tpl.TemplateContent,
		tpl.Description,
		tpl.IsActive,
		tpl.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert template %s: %w", tpl.Name, err)
	}

	return nil
}

// GetTemplate retrieves a message template by name
func (db *DB) GetTemplate(ctx context.Context, name string) (*MessageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM message_templates WHERE name = $1`

	tpl, err := scanTemplate(db.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("template %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query template %s: %w", name, err)
	}

	return tpl, nil
}

// ListTemplates retrieves every active template ordered by name
func (db *DB) ListTemplates(ctx context.Context) ([]*MessageTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM message_templates WHERE is_active ORDER BY name ASC`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*MessageTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}

	return templates, nil
}
