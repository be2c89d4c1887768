package service

import (
	"context"
	"time"

	"github.com/mealpass/token-service/internal/models"
	"github.com/mealpass/token-service/internal/repository"
)

// PackageService exposes the normalized package view the member dashboard
// renders: derived remaining counts, validity info and token stats.
type PackageService struct {
	packages PackageStore
	tokens   TokenStore

	now func() time.Time
}

func NewPackageService(packages PackageStore, tokens TokenStore) *PackageService {
	return &PackageService{packages: packages, tokens: tokens, now: time.Now}
}

type MealQuotaView struct {
	Enabled   bool     `json:"enabled"`
	Days      []string `json:"days"`
	Total     int      `json:"total"`
	Consumed  int      `json:"consumed"`
	Remaining int      `json:"remaining"`
	Collected int      `json:"collected"`
	Pending   int      `json:"pending"`
	Cancelled int      `json:"cancelled"`
}

type PackageView struct {
	ID             string           `json:"id"`
	MemberID       string           `json:"memberId"`
	MemberType     string           `json:"memberType"`
	OrganizationID string           `json:"organizationId"`
	QuotaKind      models.QuotaKind `json:"quotaKind"`
	Status         string           `json:"status"`
	Breakfast      MealQuotaView    `json:"breakfast"`
	Lunch          MealQuotaView    `json:"lunch"`
	Dinner         MealQuotaView    `json:"dinner"`
	Balance        *float64         `json:"balance,omitempty"`
	ValidFrom      *string          `json:"validFrom"`
	ValidUntil     *string          `json:"validUntil"`
	DaysRemaining  *int             `json:"daysRemaining"`
	IsUnlimited    bool             `json:"isUnlimited"`
	IsExpired      bool             `json:"isExpired"`
}

// GetPackageView returns the member's active package normalized for display,
// or nil when the member has no active package. Token stats are aggregated
// over tokens inside the package validity window.
func (s *PackageService) GetPackageView(ctx context.Context, member models.MemberRef) (*PackageView, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	pkg, err := s.packages.GetActivePackage(ctx, member)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, nil
	}

	today := s.now().UTC().Truncate(24 * time.Hour)

	// Tokens inside the validity window feed the per-meal stats. An open
	// lower bound falls back to today, matching how the dashboard has
	// always counted.
	start := today
	if pkg.ValidFrom != nil {
		start = *pkg.ValidFrom
	}
	filter := repository.TokenFilter{StartDate: &start, EndDate: pkg.ValidUntil}

	tokens, err := s.tokens.ListTokens(ctx, member.ID, filter)
	if err != nil {
		return nil, err
	}

	view := &PackageView{
		ID:             pkg.ID,
		MemberID:       pkg.MemberID,
		MemberType:     string(pkg.MemberType),
		OrganizationID: pkg.OrganizationID,
		QuotaKind:      pkg.QuotaKind,
		Status:         string(pkg.Status),
		Breakfast:      quotaView(pkg.Breakfast),
		Lunch:          quotaView(pkg.Lunch),
		Dinner:         quotaView(pkg.Dinner),
		IsUnlimited:    pkg.IsUnlimited(),
	}

	if pkg.QuotaKind == models.QuotaBalanceBased {
		b := pkg.Balance
		view.Balance = &b
	}
	if pkg.ValidFrom != nil {
		d := pkg.ValidFrom.Format(models.DateLayout)
		view.ValidFrom = &d
	}
	if pkg.ValidUntil != nil {
		d := pkg.ValidUntil.Format(models.DateLayout)
		view.ValidUntil = &d

		remaining := pkg.DaysRemaining(today)
		view.DaysRemaining = &remaining
		view.IsExpired = today.After(*pkg.ValidUntil)
	}
	if pkg.Status == models.PackageExpired {
		view.IsExpired = true
	}

	for _, tok := range tokens {
		var mv *MealQuotaView
		switch tok.MealType {
		case models.MealBreakfast:
			mv = &view.Breakfast
		case models.MealLunch:
			mv = &view.Lunch
		case models.MealDinner:
			mv = &view.Dinner
		default:
			continue
		}
		switch tok.Status {
		case models.TokenCollected:
			mv.Collected++
		case models.TokenPending:
			mv.Pending++
		case models.TokenCancelled:
			mv.Cancelled++
		}
	}

	return view, nil
}

func quotaView(plan models.MealPlan) MealQuotaView {
	days := plan.Days
	if days == nil {
		days = []string{}
	}
	total, remaining := 0, 0
	if plan.Enabled {
		total = plan.QuotaTotal
		remaining = plan.Remaining()
	}
	return MealQuotaView{
		Enabled:   plan.Enabled,
		Days:      days,
		Total:     total,
		Consumed:  plan.QuotaConsumed,
		Remaining: remaining,
	}
}
