package handlers

import (
	"database/sql"
	"net/http"

	"github.com/mealpass/token-service/internal/repository"
	"github.com/mealpass/token-service/internal/service"
)

type PackageHandler struct {
	service *service.PackageService
}

func NewPackageHandler(db *sql.DB) *PackageHandler {
	packageRepo := repository.NewPackageRepo(db)
	tokenRepo := repository.NewTokenRepo(db)
	return &PackageHandler{service: service.NewPackageService(packageRepo, tokenRepo)}
}

// GetPackage handles GET /package?memberId&memberType. A member with no
// active package gets {"package": null}, not an error; the dashboard decides
// what to render.
func (h *PackageHandler) GetPackage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	member, ok := parseMember(q.Get("memberId"), q.Get("memberType"))
	if !ok {
		writeError(w, http.StatusBadRequest, "memberId and memberType are required")
		return
	}

	view, err := h.service.GetPackageView(r.Context(), member)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"package": view})
}
