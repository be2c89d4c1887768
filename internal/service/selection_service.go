package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mealpass/token-service/internal/events"
	"github.com/mealpass/token-service/internal/models"
	"github.com/mealpass/token-service/internal/repository"
)

// SelectionService handles day-level meal preferences. The read path degrades
// to empty results when the feature is not provisioned; writes surface that
// case as ErrSelectionsNotConfigured.
type SelectionService struct {
	selections SelectionStore
	publisher  events.Publisher
}

func NewSelectionService(selections SelectionStore, publisher events.Publisher) *SelectionService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &SelectionService{selections: selections, publisher: publisher}
}

func (s *SelectionService) ListSelections(ctx context.Context, member models.MemberRef, start, end *time.Time) ([]models.MealSelection, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	return s.selections.ListSelections(ctx, member, start, end)
}

// SelectionInput is one date's intent in an upsert batch.
type SelectionInput struct {
	Date      time.Time
	Breakfast bool
	Lunch     bool
	Dinner    bool
}

// UpsertSelections overwrites or inserts one row per date. Later upserts for
// the same date supersede earlier ones; new rows carry the organization id
// resolved from the member record.
func (s *SelectionService) UpsertSelections(ctx context.Context, member models.MemberRef, inputs []SelectionInput) ([]models.MealSelection, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	orgID, err := s.selections.MemberOrganization(ctx, member)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}

	results := make([]models.MealSelection, 0, len(inputs))
	for _, in := range inputs {
		sel, err := s.selections.UpsertSelection(ctx, member, orgID, in.Date, in.Breakfast, in.Lunch, in.Dinner)
		if err != nil {
			if errors.Is(err, repository.ErrMissingRelation) {
				return nil, ErrSelectionsNotConfigured
			}
			return nil, err
		}
		results = append(results, *sel)

		if err := s.publisher.Publish(ctx, events.Event{
			Type:           events.SelectionUpserted,
			OrganizationID: sel.OrganizationID,
			MemberID:       sel.MemberID,
			MemberType:     string(sel.MemberType),
			Payload:        sel,
		}); err != nil {
			log.Printf("publish %s: %v", events.SelectionUpserted, err)
		}
	}
	return results, nil
}

// DeleteSelection cancels a stated intent; the member reverts to the default
// of wanting every enabled meal on that date.
func (s *SelectionService) DeleteSelection(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	if err := s.selections.DeleteSelection(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSelectionNotFound
		}
		return err
	}
	return nil
}
