package handlers

import (
	"database/sql"
	"net/http"

	"github.com/mealpass/token-service/internal/models"
	"github.com/mealpass/token-service/internal/repository"
	"github.com/mealpass/token-service/internal/service"
)

type OrganizationHandler struct {
	orgs *repository.OrgRepo
}

func NewOrganizationHandler(db *sql.DB) *OrganizationHandler {
	return &OrganizationHandler{orgs: repository.NewOrgRepo(db)}
}

// GetOrganization handles GET /organization?orgId. The id can also arrive via
// the X-Organization-Id header. Responds with the resolved meal windows and
// the skip deadline the UI uses to lock the skip toggle.
func (h *OrganizationHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("orgId")
	if orgID == "" {
		orgID = r.Header.Get("X-Organization-Id")
	}
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organization id is required")
		return
	}

	org, err := h.orgs.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if org == nil {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}

	mealTimes := map[string]service.MealWindow{}
	for _, mt := range models.MealTypes {
		mealTimes[string(mt)] = service.ResolveMealWindow(org, mt)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"organization": map[string]interface{}{
			"id":               org.ID,
			"name":             org.Name,
			"mealSkipDeadline": org.MealSkipDeadline,
			"mealTimes":        mealTimes,
		},
	})
}
