package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mealpass/token-service/internal/models"
)

type TokenRepo struct {
	db *sql.DB
}

func NewTokenRepo(db *sql.DB) *TokenRepo {
	return &TokenRepo{db: db}
}

const tokenColumns = `
	id, organization_id, member_id, member_type, meal_type, token_no,
	token_date, token_time, status, created_at, updated_at, collected_at, cancelled_at
`

// GetToken returns the member's token for one meal and date, or nil.
func (r *TokenRepo) GetToken(ctx context.Context, member models.MemberRef, mt models.MealType, date time.Time) (*models.MealToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM meal_tokens
		WHERE member_id = $1 AND meal_type = $2 AND token_date = $3
	`

	row := r.db.QueryRowContext(ctx, query, member.ID, mt.Upper(), date)
	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return tok, nil
}

// CreateSequenced assigns the next token_no for (token_date, meal_type)
// across all members and inserts the token, both inside one transaction.
// Concurrent inserts for the same (date, meal) can still read the same max;
// the unique index on (token_date, meal_type, token_no) rejects the loser,
// which surfaces as a unique violation the caller retries.
func (r *TokenRepo) CreateSequenced(ctx context.Context, tok *models.MealToken) (*models.MealToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var max int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(token_no), 0)
		FROM meal_tokens
		WHERE token_date = $1 AND meal_type = $2
	`, tok.TokenDate, tok.MealType.Upper()).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("max token_no: %w", err)
	}
	tok.TokenNo = max + 1

	row := tx.QueryRowContext(ctx, `
		INSERT INTO meal_tokens
		(id, organization_id, member_id, member_type, meal_type, token_no,
		 token_date, token_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING `+tokenColumns+`
	`,
		tok.ID, tok.OrganizationID, tok.MemberID, string(tok.MemberType),
		tok.MealType.Upper(), tok.TokenNo, tok.TokenDate, tok.TokenTime, string(tok.Status),
	)
	created, err := scanToken(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit token insert: %w", err)
	}
	return created, nil
}

// UpdateStatus transitions a token from an expected status and stamps the
// matching timestamp column. The status predicate in the UPDATE makes the
// transition atomic: a token that was concurrently moved off the expected
// status matches zero rows and surfaces as ErrNotFound, so a skip can never
// overwrite a collection that landed first.
func (r *TokenRepo) UpdateStatus(ctx context.Context, tokenID string, from, to models.TokenStatus) (*models.MealToken, error) {
	return updateStatus(ctx, r.db, tokenID, from, to)
}

// UpdateStatusTx is UpdateStatus inside the caller's transaction. Used by the
// collection path so the status change commits together with the quota
// consumption.
func (r *TokenRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, tokenID string, from, to models.TokenStatus) (*models.MealToken, error) {
	return updateStatus(ctx, tx, tokenID, from, to)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func updateStatus(ctx context.Context, q queryRower, tokenID string, from, to models.TokenStatus) (*models.MealToken, error) {
	stampCol := ""
	switch to {
	case models.TokenCollected:
		stampCol = ", collected_at = NOW()"
	case models.TokenCancelled:
		stampCol = ", cancelled_at = NOW()"
	}

	row := q.QueryRowContext(ctx, `
		UPDATE meal_tokens
		SET status = $2,
		    updated_at = NOW()`+stampCol+`
		WHERE id = $1 AND status = $3
		RETURNING `+tokenColumns+`
	`, tokenID, string(to), string(from))

	tok, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update token status: %w", err)
	}
	return tok, nil
}

// TokenFilter narrows ListTokens. Zero values mean no filtering.
type TokenFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Status    models.TokenStatus
	MealType  models.MealType
}

// ListTokens returns a member's tokens newest first (date, then time).
func (r *TokenRepo) ListTokens(ctx context.Context, memberID string, f TokenFilter) ([]models.MealToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM meal_tokens
		WHERE member_id = $1
	`
	args := []any{memberID}

	if f.StartDate != nil {
		args = append(args, *f.StartDate)
		query += fmt.Sprintf(" AND token_date >= $%d", len(args))
	}
	if f.EndDate != nil {
		args = append(args, *f.EndDate)
		query += fmt.Sprintf(" AND token_date <= $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.MealType != "" {
		args = append(args, f.MealType.Upper())
		query += fmt.Sprintf(" AND meal_type = $%d", len(args))
	}
	query += " ORDER BY token_date DESC, token_time DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	tokens := []models.MealToken{}
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *tok)
	}
	return tokens, rows.Err()
}

// ListPendingThrough returns PENDING tokens dated up to and including the
// given date, oldest first. Used by the expiry sweep.
func (r *TokenRepo) ListPendingThrough(ctx context.Context, date time.Time) ([]models.MealToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM meal_tokens
		WHERE status = 'PENDING' AND token_date <= $1
		ORDER BY token_date ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list pending tokens: %w", err)
	}
	defer rows.Close()

	tokens := []models.MealToken{}
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *tok)
	}
	return tokens, rows.Err()
}

// MarkExpired flips a batch of PENDING tokens to EXPIRED. The status guard
// keeps a concurrent collection from being overwritten.
func (r *TokenRepo) MarkExpired(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE meal_tokens
		SET status = 'EXPIRED',
		    updated_at = NOW()
		WHERE id = ANY($1) AND status = 'PENDING'
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	return nil
}

func scanToken(row rowScanner) (*models.MealToken, error) {
	var (
		t           models.MealToken
		memberType  string
		mealType    string
		status      string
		collectedAt sql.NullTime
		cancelledAt sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.OrganizationID, &t.MemberID, &memberType, &mealType, &t.TokenNo,
		&t.TokenDate, &t.TokenTime, &status, &t.CreatedAt, &t.UpdatedAt, &collectedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	t.MemberType = models.MemberType(memberType)
	mt, err := models.ParseMealType(mealType)
	if err != nil {
		return nil, err
	}
	t.MealType = mt
	t.Status = models.TokenStatus(status)
	if collectedAt.Valid {
		ts := collectedAt.Time
		t.CollectedAt = &ts
	}
	if cancelledAt.Valid {
		ts := cancelledAt.Time
		t.CancelledAt = &ts
	}
	return &t, nil
}
