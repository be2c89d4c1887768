package models

import "time"

// MealSelection captures a member's stated intent for one date. The three
// flags are pointers because an unset flag (legacy rows) counts as wanted;
// only an explicit false opts out.
type MealSelection struct {
	ID             string     `json:"id"`
	MemberID       string     `json:"member_id"`
	MemberType     MemberType `json:"member_type"`
	OrganizationID string     `json:"organization_id"`
	Date           time.Time  `json:"date"`
	Breakfast      *bool      `json:"breakfast_needed"`
	Lunch          *bool      `json:"lunch_needed"`
	Dinner         *bool      `json:"dinner_needed"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Wants reports whether the member wants the given meal. Absent selections
// are handled by the caller; an unset flag here still means wanted.
func (s *MealSelection) Wants(mt MealType) bool {
	var f *bool
	switch mt {
	case MealLunch:
		f = s.Lunch
	case MealDinner:
		f = s.Dinner
	default:
		f = s.Breakfast
	}
	return f == nil || *f
}
