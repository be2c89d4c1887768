package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/mealpass/token-service/internal/events"
	"github.com/mealpass/token-service/internal/models"
	"github.com/mealpass/token-service/internal/repository"
	"github.com/mealpass/token-service/internal/service"
)

type SelectionEntry struct {
	Date      string `json:"date"`
	Breakfast bool   `json:"breakfast"`
	Lunch     bool   `json:"lunch"`
	Dinner    bool   `json:"dinner"`
}

type UpsertSelectionsRequest struct {
	MemberID   string           `json:"memberId"`
	MemberType string           `json:"memberType"`
	Selections []SelectionEntry `json:"selections"`
}

type SelectionHandler struct {
	service *service.SelectionService
}

func NewSelectionHandler(db *sql.DB, publisher events.Publisher) *SelectionHandler {
	repo := repository.NewSelectionRepo(db)
	return &SelectionHandler{service: service.NewSelectionService(repo, publisher)}
}

// ListSelections handles GET /selections?memberId&memberType&startDate&endDate
func (h *SelectionHandler) ListSelections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	member, ok := parseMember(q.Get("memberId"), q.Get("memberType"))
	if !ok {
		writeError(w, http.StatusBadRequest, "memberId and memberType are required")
		return
	}

	start, end, err := parseDateRange(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	selections, err := h.service.ListSelections(r.Context(), member, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"selections": selections})
}

// UpsertSelections handles POST /selections
func (h *SelectionHandler) UpsertSelections(w http.ResponseWriter, r *http.Request) {
	var req UpsertSelectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	member, ok := parseMember(req.MemberID, req.MemberType)
	if !ok {
		writeError(w, http.StatusBadRequest, "memberId and memberType are required")
		return
	}
	if len(req.Selections) == 0 {
		writeError(w, http.StatusBadRequest, "selections array is required")
		return
	}

	inputs := make([]service.SelectionInput, 0, len(req.Selections))
	for _, sel := range req.Selections {
		date, err := models.ParseDate(sel.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		inputs = append(inputs, service.SelectionInput{
			Date:      date,
			Breakfast: sel.Breakfast,
			Lunch:     sel.Lunch,
			Dinner:    sel.Dinner,
		})
	}

	selections, err := h.service.UpsertSelections(r.Context(), member, inputs)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"selections": selections,
	})
}

// DeleteSelection handles DELETE /selections?id=
func (h *SelectionHandler) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "selection id is required")
		return
	}

	if err := h.service.DeleteSelection(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
