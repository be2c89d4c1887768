package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mealpass/token-service/internal/events"
	"github.com/mealpass/token-service/internal/models"
	"github.com/mealpass/token-service/internal/repository"
	"github.com/mealpass/token-service/internal/service"
)

// --- Request DTOs ---

type EnsureTokensRequest struct {
	MemberID   string `json:"memberId"`
	MemberType string `json:"memberType"`
	Date       string `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
}

type SkipTokenRequest struct {
	MemberID   string `json:"memberId"`
	MemberType string `json:"memberType"`
	Date       string `json:"date"`
	MealType   string `json:"mealType"`
	Action     string `json:"action"` // "skip" or "cancel"
}

type CollectTokenRequest struct {
	MemberID   string `json:"memberId"`
	MemberType string `json:"memberType"`
	Date       string `json:"date"`
	MealType   string `json:"mealType"`
}

type TokenHandler struct {
	service *service.TokenService
}

func NewTokenHandler(db *sql.DB, publisher events.Publisher, enforceSkipDeadline bool) *TokenHandler {
	tokenRepo := repository.NewTokenRepo(db)
	packageRepo := repository.NewPackageRepo(db)
	selectionRepo := repository.NewSelectionRepo(db)
	orgRepo := repository.NewOrgRepo(db)

	svc := service.NewTokenService(tokenRepo, packageRepo, selectionRepo, orgRepo, publisher, enforceSkipDeadline)
	return &TokenHandler{service: svc}
}

// Service exposes the engine for wiring the background expiry sweep.
func (h *TokenHandler) Service() *service.TokenService {
	return h.service
}

// parseDateRange parses optional YYYY-MM-DD range bounds from query params.
func parseDateRange(startStr, endStr string) (start, end *time.Time, err error) {
	if startStr != "" {
		d, err := models.ParseDate(startStr)
		if err != nil {
			return nil, nil, err
		}
		start = &d
	}
	if endStr != "" {
		d, err := models.ParseDate(endStr)
		if err != nil {
			return nil, nil, err
		}
		end = &d
	}
	return start, end, nil
}

func parseMember(id, typ string) (models.MemberRef, bool) {
	if id == "" || typ == "" {
		return models.MemberRef{}, false
	}
	mt, err := models.ParseMemberType(typ)
	if err != nil {
		return models.MemberRef{}, false
	}
	return models.MemberRef{ID: id, Type: mt}, true
}

// EnsureTokens handles POST /tokens/ensure
func (h *TokenHandler) EnsureTokens(w http.ResponseWriter, r *http.Request) {
	var req EnsureTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	member, ok := parseMember(req.MemberID, req.MemberType)
	if !ok {
		writeError(w, http.StatusBadRequest, "memberId and memberType are required")
		return
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if strings.TrimSpace(req.Date) != "" {
		var err error
		date, err = models.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	created, err := h.service.EnsureTokensForDate(r.Context(), member, date)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"created": len(created),
		"tokens":  created,
	})
}

// EnsureTokenRange handles GET /tokens/ensure?memberId&memberType&days=7
func (h *TokenHandler) EnsureTokenRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	member, ok := parseMember(q.Get("memberId"), q.Get("memberType"))
	if !ok {
		writeError(w, http.StatusBadRequest, "memberId and memberType are required")
		return
	}

	days := 7
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 31 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 31")
			return
		}
		days = n
	}

	results := h.service.EnsureTokensForRange(r.Context(), member, days)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// SkipToken handles POST /tokens/skip
func (h *TokenHandler) SkipToken(w http.ResponseWriter, r *http.Request) {
	var req SkipTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	member, ok := parseMember(req.MemberID, req.MemberType)
	if !ok {
		writeError(w, http.StatusBadRequest, "memberId and memberType are required")
		return
	}

	if req.Action != "skip" && req.Action != "cancel" {
		writeError(w, http.StatusBadRequest, `invalid action. Use "skip" or "cancel"`)
		return
	}

	date, err := models.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mealType, err := models.ParseMealType(req.MealType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.service.SkipToken(r.Context(), member, date, mealType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	msg := "Meal skipped successfully."
	if req.Action == "cancel" {
		msg = "Meal cancelled."
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msg,
		"token":   token,
	})
}

// CollectToken handles POST /tokens/collect
func (h *TokenHandler) CollectToken(w http.ResponseWriter, r *http.Request) {
	var req CollectTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	member, ok := parseMember(req.MemberID, req.MemberType)
	if !ok {
		writeError(w, http.StatusBadRequest, "memberId and memberType are required")
		return
	}

	date, err := models.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mealType, err := models.ParseMealType(req.MealType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.service.CollectToken(r.Context(), member, date, mealType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}

// ListTokens handles GET /tokens?memberId&startDate&endDate&status&mealType
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	memberID := q.Get("memberId")
	if memberID == "" {
		writeError(w, http.StatusBadRequest, "memberId is required")
		return
	}

	var filter repository.TokenFilter
	if v := q.Get("startDate"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.StartDate = &d
	}
	if v := q.Get("endDate"); v != "" {
		d, err := models.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.EndDate = &d
	}
	if v := q.Get("status"); v != "" {
		filter.Status = models.TokenStatus(strings.ToUpper(v))
	}
	if v := q.Get("mealType"); v != "" {
		mt, err := models.ParseMealType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.MealType = mt
	}

	tokens, stats, err := h.service.ListTokens(r.Context(), memberID, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokens": tokens,
		"stats":  stats,
	})
}
