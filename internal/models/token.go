package models

import "time"

type TokenStatus string

const (
	TokenPending   TokenStatus = "PENDING"
	TokenCollected TokenStatus = "COLLECTED"
	TokenCancelled TokenStatus = "CANCELLED"
	TokenExpired   TokenStatus = "EXPIRED"
)

// Terminal reports whether no further status transition is legal.
func (s TokenStatus) Terminal() bool {
	return s == TokenCollected || s == TokenCancelled || s == TokenExpired
}

type MealToken struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	MemberID       string      `json:"member_id"`
	MemberType     MemberType  `json:"member_type"`
	MealType       MealType    `json:"meal_type"`
	TokenNo        int         `json:"token_no"`
	TokenDate      time.Time   `json:"token_date"` // date only, UTC midnight
	TokenTime      string      `json:"token_time"` // serving time "HH:MM:SS"
	Status         TokenStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CollectedAt    *time.Time  `json:"collected_at,omitempty"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
}
