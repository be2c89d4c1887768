package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mealpass/token-service/internal/models"
)

type SelectionRepo struct {
	db *sql.DB
}

func NewSelectionRepo(db *sql.DB) *SelectionRepo {
	return &SelectionRepo{db: db}
}

const selectionColumns = `
	id, member_id, member_type, organization_id, date,
	breakfast_needed, lunch_needed, dinner_needed, created_at, updated_at
`

// GetSelection returns the member's selection row for one date, or nil when
// absent. A missing meal_selections relation also reads as absent so the
// dashboard keeps rendering on installs without the feature.
func (r *SelectionRepo) GetSelection(ctx context.Context, member models.MemberRef, date time.Time) (*models.MealSelection, error) {
	query := `
		SELECT ` + selectionColumns + `
		FROM meal_selections
		WHERE member_id = $1 AND member_type = $2 AND date = $3
	`

	row := r.db.QueryRowContext(ctx, query, member.ID, string(member.Type), date)
	sel, err := scanSelection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get selection: %w", err)
	}
	return sel, nil
}

// ListSelections returns the member's selections ordered by date ascending,
// optionally bounded by start/end dates. Missing relation degrades to empty.
func (r *SelectionRepo) ListSelections(ctx context.Context, member models.MemberRef, start, end *time.Time) ([]models.MealSelection, error) {
	query := `
		SELECT ` + selectionColumns + `
		FROM meal_selections
		WHERE member_id = $1 AND member_type = $2
	`
	args := []any{member.ID, string(member.Type)}

	if start != nil {
		args = append(args, *start)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	query += " ORDER BY date ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return []models.MealSelection{}, nil
		}
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()

	selections := []models.MealSelection{}
	for rows.Next() {
		sel, err := scanSelection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		selections = append(selections, *sel)
	}
	return selections, rows.Err()
}

// UpsertSelection overwrites the flags of an existing (member, date) row or
// inserts a new one carrying the member's organization id.
func (r *SelectionRepo) UpsertSelection(ctx context.Context, member models.MemberRef, organizationID string, date time.Time, breakfast, lunch, dinner bool) (*models.MealSelection, error) {
	var existingID string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM meal_selections
		WHERE member_id = $1 AND member_type = $2 AND date = $3
	`, member.ID, string(member.Type), date).Scan(&existingID)

	switch {
	case err == nil:
		row := r.db.QueryRowContext(ctx, `
			UPDATE meal_selections
			SET breakfast_needed = $2,
			    lunch_needed = $3,
			    dinner_needed = $4,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING `+selectionColumns+`
		`, existingID, breakfast, lunch, dinner)
		sel, err := scanSelection(row)
		if err != nil {
			return nil, fmt.Errorf("update selection: %w", err)
		}
		return sel, nil

	case errors.Is(err, sql.ErrNoRows):
		row := r.db.QueryRowContext(ctx, `
			INSERT INTO meal_selections
			(id, member_id, member_type, organization_id, date,
			 breakfast_needed, lunch_needed, dinner_needed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
			RETURNING `+selectionColumns+`
		`, uuid.NewString(), member.ID, string(member.Type), organizationID, date, breakfast, lunch, dinner)
		sel, err := scanSelection(row)
		if err != nil {
			if isUndefinedTable(err) {
				return nil, ErrMissingRelation
			}
			return nil, fmt.Errorf("insert selection: %w", err)
		}
		return sel, nil

	default:
		if isUndefinedTable(err) {
			return nil, ErrMissingRelation
		}
		return nil, fmt.Errorf("find selection: %w", err)
	}
}

// DeleteSelection removes one selection row. Deleting a nonexistent id is a
// client error, not a silent no-op.
func (r *SelectionRepo) DeleteSelection(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM meal_selections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete selection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete selection: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemberOrganization resolves a member's organization id from the per-type
// member table.
func (r *SelectionRepo) MemberOrganization(ctx context.Context, member models.MemberRef) (string, error) {
	var table string
	switch member.Type {
	case models.MemberStudent:
		table = "student_members"
	case models.MemberFaculty:
		table = "faculty_members"
	case models.MemberStaff:
		table = "staff_members"
	default:
		return "", fmt.Errorf("unknown member type: %q", member.Type)
	}

	var orgID string
	err := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT organization_id FROM %s WHERE id = $1`, table),
		member.ID,
	).Scan(&orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("member organization: %w", err)
	}
	return orgID, nil
}

func scanSelection(row rowScanner) (*models.MealSelection, error) {
	var (
		s          models.MealSelection
		memberType string
		breakfast  sql.NullBool
		lunch      sql.NullBool
		dinner     sql.NullBool
	)

	err := row.Scan(
		&s.ID, &s.MemberID, &memberType, &s.OrganizationID, &s.Date,
		&breakfast, &lunch, &dinner, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.MemberType = models.MemberType(memberType)
	if breakfast.Valid {
		s.Breakfast = &breakfast.Bool
	}
	if lunch.Valid {
		s.Lunch = &lunch.Bool
	}
	if dinner.Valid {
		s.Dinner = &dinner.Bool
	}
	return &s, nil
}
