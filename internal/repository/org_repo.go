package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mealpass/token-service/internal/models"
)

type OrgRepo struct {
	db *sql.DB
}

func NewOrgRepo(db *sql.DB) *OrgRepo {
	return &OrgRepo{db: db}
}

func (r *OrgRepo) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var (
		org      models.Organization
		settings []byte
		deadline sql.NullInt64
	)

	query := `
		SELECT id, name, meal_skip_deadline, settings, is_active
		FROM organizations
		WHERE id = $1
	`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&deadline,
		&settings,
		&org.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get organization: %w", err)
	}

	// unset deadline falls back to the 30 minute default
	org.MealSkipDeadline = 30
	if deadline.Valid {
		org.MealSkipDeadline = int(deadline.Int64)
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &org.Settings); err != nil {
			return nil, fmt.Errorf("decode organization settings: %w", err)
		}
	}

	return &org, nil
}
