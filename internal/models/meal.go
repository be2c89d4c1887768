package models

import (
	"fmt"
	"strings"
	"time"
)

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
)

// MealTypes lists all meal types in serving order. Token generation iterates
// in this order so token numbering is deterministic within a request.
var MealTypes = []MealType{MealBreakfast, MealLunch, MealDinner}

func ParseMealType(s string) (MealType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "breakfast":
		return MealBreakfast, nil
	case "lunch":
		return MealLunch, nil
	case "dinner":
		return MealDinner, nil
	}
	return "", fmt.Errorf("unknown meal type: %q", s)
}

// Upper returns the meal type as stored in the meal_tokens table.
func (m MealType) Upper() string {
	return strings.ToUpper(string(m))
}

type MemberType string

const (
	MemberStudent MemberType = "student"
	MemberFaculty MemberType = "faculty"
	MemberStaff   MemberType = "staff"
)

func ParseMemberType(s string) (MemberType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return MemberStudent, nil
	case "faculty":
		return MemberFaculty, nil
	case "staff":
		return MemberStaff, nil
	}
	return "", fmt.Errorf("unknown member type: %q", s)
}

// MemberRef identifies a member across the per-type member tables.
type MemberRef struct {
	ID   string
	Type MemberType
}

const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date into a UTC midnight instant.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t, nil
}

// Weekday returns the lowercase weekday name for a date, matching the values
// stored in package weekday rules.
func Weekday(date time.Time) string {
	return strings.ToLower(date.Weekday().String())
}
