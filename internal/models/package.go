package models

import (
	"strings"
	"time"
)

// QuotaKind selects which quota fields of a package apply. The two shapes are
// mutually exclusive: count-based packages carry per-meal counters,
// balance-based packages carry a monetary balance.
type QuotaKind string

const (
	QuotaCountBased   QuotaKind = "count_based"
	QuotaBalanceBased QuotaKind = "balance_based"
)

type PackageStatus string

const (
	PackageActive      PackageStatus = "active"
	PackageDeactivated PackageStatus = "deactivated"
	PackageExpired     PackageStatus = "expired"
)

// MealPlan is the per-meal-type configuration inside a package.
type MealPlan struct {
	Enabled       bool
	Days          []string // lowercase weekday names; empty = every day
	QuotaTotal    int      // count-based only
	QuotaConsumed int      // count-based only
}

// Remaining is the floored remaining quota for a count-based plan.
func (p MealPlan) Remaining() int {
	r := p.QuotaTotal - p.QuotaConsumed
	if r < 0 {
		return 0
	}
	return r
}

// OfferedOn reports whether this plan offers a meal on the given date.
// A disabled plan never offers; an empty weekday set offers every day.
func (p MealPlan) OfferedOn(date time.Time) bool {
	if !p.Enabled {
		return false
	}
	if len(p.Days) == 0 {
		return true
	}
	day := Weekday(date)
	for _, d := range p.Days {
		if strings.ToLower(d) == day {
			return true
		}
	}
	return false
}

type MemberPackage struct {
	ID             string
	MemberID       string
	MemberType     MemberType
	OrganizationID string
	QuotaKind      QuotaKind
	Breakfast      MealPlan
	Lunch          MealPlan
	Dinner         MealPlan
	Balance        float64 // balance-based only
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	IsActive       bool
	Status         PackageStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p *MemberPackage) Plan(mt MealType) MealPlan {
	switch mt {
	case MealLunch:
		return p.Lunch
	case MealDinner:
		return p.Dinner
	default:
		return p.Breakfast
	}
}

// CoversDate checks the package validity window. Nil bounds are open.
func (p *MemberPackage) CoversDate(date time.Time) bool {
	if p.ValidFrom != nil && date.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && date.After(*p.ValidUntil) {
		return false
	}
	return true
}

// IsUnlimited reports whether the package has no end date.
func (p *MemberPackage) IsUnlimited() bool {
	return p.ValidUntil == nil
}

// DaysRemaining returns the whole days left until valid_until measured from
// today's midnight, floored at zero. Unlimited packages return -1.
func (p *MemberPackage) DaysRemaining(today time.Time) int {
	if p.ValidUntil == nil {
		return -1
	}
	today = today.Truncate(24 * time.Hour)
	d := int(p.ValidUntil.Sub(today).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
