package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mealpass/token-service/internal/models"
)

// MealWindow is the serving window for one meal type, 24-hour "HH:MM".
type MealWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

var defaultWindows = map[models.MealType]MealWindow{
	models.MealBreakfast: {Start: "07:00", End: "09:00"},
	models.MealLunch:     {Start: "12:00", End: "14:00"},
	models.MealDinner:    {Start: "19:00", End: "21:00"},
}

// ResolveMealWindow returns the organization's configured window for a meal,
// falling back to the defaults field by field. A nil org means all defaults.
func ResolveMealWindow(org *models.Organization, mt models.MealType) MealWindow {
	w := defaultWindows[mt]
	if org == nil {
		return w
	}

	var start, end string
	switch mt {
	case models.MealBreakfast:
		start, end = org.Settings.BreakfastStart, org.Settings.BreakfastEnd
	case models.MealLunch:
		start, end = org.Settings.LunchStart, org.Settings.LunchEnd
	case models.MealDinner:
		start, end = org.Settings.DinnerStart, org.Settings.DinnerEnd
	}
	if start != "" {
		w.Start = start
	}
	if end != "" {
		w.End = end
	}
	return w
}

// ServingTime is the token_time value for a meal: the window start with
// seconds appended, matching the stored "HH:MM:SS" format.
func ServingTime(org *models.Organization, mt models.MealType) string {
	return ResolveMealWindow(org, mt).Start + ":00"
}

// SkipDeadline is the instant after which skipping the meal is locked:
// window start on the token date minus the organization's deadline minutes.
func SkipDeadline(org *models.Organization, mt models.MealType, date time.Time) time.Time {
	w := ResolveMealWindow(org, mt)
	deadline := 30
	if org != nil {
		deadline = org.MealSkipDeadline
	}
	return clockOn(date, w.Start).Add(-time.Duration(deadline) * time.Minute)
}

// WindowEnd is the instant the meal window fully elapses on the given date.
func WindowEnd(org *models.Organization, mt models.MealType, date time.Time) time.Time {
	return clockOn(date, ResolveMealWindow(org, mt).End)
}

// clockOn anchors an "HH:MM" clock value on a date's day (UTC).
func clockOn(date time.Time, clock string) time.Time {
	h, m, err := parseClock(clock)
	if err != nil {
		h, m = 0, 0
	}
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, time.UTC)
}

func parseClock(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h, m, nil
}
