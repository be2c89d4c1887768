package service

import "github.com/mealpass/token-service/internal/models"

type MealTypeStats struct {
	Collected int `json:"collected"`
	Pending   int `json:"pending"`
	Total     int `json:"total"`
}

// TokenStats aggregates a token set by status and by meal type.
type TokenStats struct {
	Total     int           `json:"total"`
	Collected int           `json:"collected"`
	Pending   int           `json:"pending"`
	Cancelled int           `json:"cancelled"`
	Expired   int           `json:"expired"`
	Breakfast MealTypeStats `json:"breakfast"`
	Lunch     MealTypeStats `json:"lunch"`
	Dinner    MealTypeStats `json:"dinner"`
}

func ComputeTokenStats(tokens []models.MealToken) TokenStats {
	stats := TokenStats{Total: len(tokens)}

	for _, tok := range tokens {
		switch tok.Status {
		case models.TokenCollected:
			stats.Collected++
		case models.TokenPending:
			stats.Pending++
		case models.TokenCancelled:
			stats.Cancelled++
		case models.TokenExpired:
			stats.Expired++
		}

		var meal *MealTypeStats
		switch tok.MealType {
		case models.MealBreakfast:
			meal = &stats.Breakfast
		case models.MealLunch:
			meal = &stats.Lunch
		case models.MealDinner:
			meal = &stats.Dinner
		default:
			continue
		}
		meal.Total++
		switch tok.Status {
		case models.TokenCollected:
			meal.Collected++
		case models.TokenPending:
			meal.Pending++
		}
	}
	return stats
}
