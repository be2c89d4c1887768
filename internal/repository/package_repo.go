package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mealpass/token-service/internal/models"
)

type PackageRepo struct {
	db *sql.DB
}

func NewPackageRepo(db *sql.DB) *PackageRepo {
	return &PackageRepo{db: db}
}

const packageColumns = `
	id, member_id, member_type, organization_id, quota_kind,
	breakfast_enabled, breakfast_days, breakfast_quota_total, breakfast_quota_consumed,
	lunch_enabled, lunch_days, lunch_quota_total, lunch_quota_consumed,
	dinner_enabled, dinner_days, dinner_quota_total, dinner_quota_consumed,
	balance, valid_from, valid_until, is_active, status, created_at, updated_at
`

// GetActivePackage returns the member's newest package that is both flagged
// active and in status 'active', or nil when none exists.
func (r *PackageRepo) GetActivePackage(ctx context.Context, member models.MemberRef) (*models.MemberPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM member_packages
		WHERE member_id = $1 AND member_type = $2
		  AND is_active = true AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, query, member.ID, string(member.Type))
	pkg, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active package: %w", err)
	}
	return pkg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*models.MemberPackage, error) {
	var (
		p          models.MemberPackage
		memberType string
		quotaKind  string
		status     string
		balance    sql.NullFloat64
		validFrom  sql.NullTime
		validUntil sql.NullTime
	)

	err := row.Scan(
		&p.ID, &p.MemberID, &memberType, &p.OrganizationID, &quotaKind,
		&p.Breakfast.Enabled, pq.Array(&p.Breakfast.Days), &p.Breakfast.QuotaTotal, &p.Breakfast.QuotaConsumed,
		&p.Lunch.Enabled, pq.Array(&p.Lunch.Days), &p.Lunch.QuotaTotal, &p.Lunch.QuotaConsumed,
		&p.Dinner.Enabled, pq.Array(&p.Dinner.Days), &p.Dinner.QuotaTotal, &p.Dinner.QuotaConsumed,
		&balance, &validFrom, &validUntil, &p.IsActive, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.MemberType = models.MemberType(memberType)
	p.QuotaKind = models.QuotaKind(quotaKind)
	p.Status = models.PackageStatus(status)
	if balance.Valid {
		p.Balance = balance.Float64
	}
	if validFrom.Valid {
		t := validFrom.Time
		p.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time
		p.ValidUntil = &t
	}
	return &p, nil
}

func consumedColumn(mt models.MealType) (string, error) {
	switch mt {
	case models.MealBreakfast:
		return "breakfast_quota_consumed", nil
	case models.MealLunch:
		return "lunch_quota_consumed", nil
	case models.MealDinner:
		return "dinner_quota_consumed", nil
	}
	return "", fmt.Errorf("unknown meal type: %q", mt)
}

func totalColumn(mt models.MealType) (string, error) {
	switch mt {
	case models.MealBreakfast:
		return "breakfast_quota_total", nil
	case models.MealLunch:
		return "lunch_quota_total", nil
	case models.MealDinner:
		return "dinner_quota_total", nil
	}
	return "", fmt.Errorf("unknown meal type: %q", mt)
}

// ConsumeQuota consumes one unit of a meal's quota inside a serializable
// transaction holding the package row lock. apply runs between the lock and
// the increment with the pre-consumption counters; returning an error (e.g.
// quota exhausted, illegal token transition) rolls everything back, so the
// counter and whatever apply wrote commit or fail together.
func (r *PackageRepo) ConsumeQuota(ctx context.Context, packageID string, mt models.MealType, apply func(tx *sql.Tx, consumed, total int) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	consumed, total, err := r.GetAndLockQuota(ctx, tx, packageID, mt)
	if err != nil {
		return err
	}

	if err := apply(tx, consumed, total); err != nil {
		return err
	}

	if err := r.IncrementConsumed(ctx, tx, packageID, mt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	committed = true
	return nil
}

// GetAndLockQuota locks the package row and returns the consumed/total
// counters for one meal. Callers hold the lock until the transaction ends.
func (r *PackageRepo) GetAndLockQuota(ctx context.Context, tx *sql.Tx, packageID string, mt models.MealType) (consumed, total int, err error) {
	consumedCol, err := consumedColumn(mt)
	if err != nil {
		return 0, 0, err
	}
	totalCol, err := totalColumn(mt)
	if err != nil {
		return 0, 0, err
	}

	query := fmt.Sprintf(`
		SELECT %s, %s
		FROM member_packages
		WHERE id = $1
		FOR UPDATE
	`, consumedCol, totalCol)

	err = tx.QueryRowContext(ctx, query, packageID).Scan(&consumed, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("lock package quota: %w", err)
	}
	return consumed, total, nil
}

// IncrementConsumed bumps the consumed counter for one meal inside the
// caller's transaction. Must only be called while holding the row lock taken
// by GetAndLockQuota.
func (r *PackageRepo) IncrementConsumed(ctx context.Context, tx *sql.Tx, packageID string, mt models.MealType) error {
	consumedCol, err := consumedColumn(mt)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE member_packages
		SET %s = %s + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, consumedCol, consumedCol)

	if _, err := tx.ExecContext(ctx, query, packageID); err != nil {
		return fmt.Errorf("increment consumed: %w", err)
	}
	return nil
}
