package models

// OrgSettings holds meal-time overrides from the organization's settings
// document. Values are 24-hour "HH:MM" strings; empty means use the default.
type OrgSettings struct {
	BreakfastStart string `json:"breakfast_start,omitempty"`
	BreakfastEnd   string `json:"breakfast_end,omitempty"`
	LunchStart     string `json:"lunch_start,omitempty"`
	LunchEnd       string `json:"lunch_end,omitempty"`
	DinnerStart    string `json:"dinner_start,omitempty"`
	DinnerEnd      string `json:"dinner_end,omitempty"`
}

type Organization struct {
	ID               string
	Name             string
	MealSkipDeadline int // minutes before meal start after which skipping locks
	Settings         OrgSettings
	IsActive         bool
}
