package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mealpass/token-service/internal/api/handlers"
	"github.com/mealpass/token-service/internal/events"
	"github.com/mealpass/token-service/internal/service"
)

// NewRouter builds the HTTP router for the token service and returns the
// token engine so main can wire the expiry sweep onto it.
func NewRouter(db *sql.DB, publisher events.Publisher, enforceSkipDeadline bool) (http.Handler, *service.TokenService) {
	r := chi.NewRouter()

	tokenHandler := handlers.NewTokenHandler(db, publisher, enforceSkipDeadline)
	selectionHandler := handlers.NewSelectionHandler(db, publisher)
	packageHandler := handlers.NewPackageHandler(db)
	orgHandler := handlers.NewOrganizationHandler(db)

	r.Route("/tokens", func(r chi.Router) {
		r.Get("/", tokenHandler.ListTokens)
		r.Post("/ensure", tokenHandler.EnsureTokens)
		r.Get("/ensure", tokenHandler.EnsureTokenRange)
		r.Post("/skip", tokenHandler.SkipToken)
		r.Post("/collect", tokenHandler.CollectToken)
	})

	r.Route("/selections", func(r chi.Router) {
		r.Get("/", selectionHandler.ListSelections)
		r.Post("/", selectionHandler.UpsertSelections)
		r.Delete("/", selectionHandler.DeleteSelection)
	})

	r.Get("/package", packageHandler.GetPackage)
	r.Get("/organization", orgHandler.GetOrganization)

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r, tokenHandler.Service()
}
