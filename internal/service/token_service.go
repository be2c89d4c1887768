package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mealpass/token-service/internal/cache"
	"github.com/mealpass/token-service/internal/events"
	"github.com/mealpass/token-service/internal/models"
	"github.com/mealpass/token-service/internal/repository"
)

// Stores required by the services (interfaces to allow mocking).

type TokenStore interface {
	GetToken(ctx context.Context, member models.MemberRef, mt models.MealType, date time.Time) (*models.MealToken, error)
	CreateSequenced(ctx context.Context, tok *models.MealToken) (*models.MealToken, error)
	UpdateStatus(ctx context.Context, tokenID string, from, to models.TokenStatus) (*models.MealToken, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, tokenID string, from, to models.TokenStatus) (*models.MealToken, error)
	ListTokens(ctx context.Context, memberID string, f repository.TokenFilter) ([]models.MealToken, error)
	ListPendingThrough(ctx context.Context, date time.Time) ([]models.MealToken, error)
	MarkExpired(ctx context.Context, ids []string) error
}

type PackageStore interface {
	GetActivePackage(ctx context.Context, member models.MemberRef) (*models.MemberPackage, error)
	ConsumeQuota(ctx context.Context, packageID string, mt models.MealType, apply func(tx *sql.Tx, consumed, total int) error) error
}

type SelectionStore interface {
	GetSelection(ctx context.Context, member models.MemberRef, date time.Time) (*models.MealSelection, error)
	ListSelections(ctx context.Context, member models.MemberRef, start, end *time.Time) ([]models.MealSelection, error)
	UpsertSelection(ctx context.Context, member models.MemberRef, organizationID string, date time.Time, breakfast, lunch, dinner bool) (*models.MealSelection, error)
	DeleteSelection(ctx context.Context, id string) error
	MemberOrganization(ctx context.Context, member models.MemberRef) (string, error)
}

type OrgStore interface {
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
}

const (
	requestTimeout   = 8 * time.Second
	sequenceAttempts = 3
)

// TokenService is the token lifecycle engine: it derives which tokens should
// exist for a member and date from package, calendar and selection state, and
// owns every status transition.
type TokenService struct {
	tokens     TokenStore
	packages   PackageStore
	selections SelectionStore
	orgs       OrgStore
	orgCache   *cache.OrgCache
	publisher  events.Publisher

	now                 func() time.Time
	enforceSkipDeadline bool
}

func NewTokenService(tokens TokenStore, packages PackageStore, selections SelectionStore, orgs OrgStore, publisher events.Publisher, enforceSkipDeadline bool) *TokenService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &TokenService{
		tokens:              tokens,
		packages:            packages,
		selections:          selections,
		orgs:                orgs,
		orgCache:            cache.NewOrgCache(),
		publisher:           publisher,
		now:                 time.Now,
		enforceSkipDeadline: enforceSkipDeadline,
	}
}

// Organization resolves an organization through the in-process cache. A nil
// result means the org row is missing; meal windows then use defaults.
func (s *TokenService) Organization(ctx context.Context, id string) (*models.Organization, error) {
	if org, ok := s.orgCache.Get(id); ok {
		return org, nil
	}
	org, err := s.orgs.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if org != nil {
		s.orgCache.Set(id, org)
	}
	return org, nil
}

// EnsureTokensForDate derives and creates the member's tokens for one date.
// Idempotent: meals that already have a token are left untouched, so repeated
// calls never create duplicates and never error.
func (s *TokenService) EnsureTokensForDate(ctx context.Context, member models.MemberRef, date time.Time) ([]models.MealToken, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	pkg, err := s.packages.GetActivePackage(ctx, member)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, ErrNoActivePackage
	}

	// Organization id always comes from the package row itself.
	if pkg.OrganizationID == "" {
		return nil, ErrOrganizationNotFound
	}

	if !pkg.CoversDate(date) {
		return nil, ErrDateOutOfValidity
	}

	org, err := s.Organization(ctx, pkg.OrganizationID)
	if err != nil {
		return nil, err
	}

	sel, err := s.selections.GetSelection(ctx, member, date)
	if err != nil {
		return nil, err
	}

	created := []models.MealToken{}
	for _, mt := range models.MealTypes {
		if !pkg.Plan(mt).OfferedOn(date) {
			continue
		}

		existing, err := s.tokens.GetToken(ctx, member, mt, date)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		// Absent selection row or unset flag means wanted; only an explicit
		// opt-out produces a CANCELLED token. Opted-out meals still get a
		// token so the per-day sequence and audit trail stay intact.
		status := models.TokenPending
		if sel != nil && !sel.Wants(mt) {
			status = models.TokenCancelled
		}

		tok, err := s.createSequenced(ctx, &models.MealToken{
			ID:             uuid.NewString(),
			OrganizationID: pkg.OrganizationID,
			MemberID:       member.ID,
			MemberType:     member.Type,
			MealType:       mt,
			TokenDate:      date,
			TokenTime:      ServingTime(org, mt),
			Status:         status,
		})
		if err != nil {
			return nil, err
		}
		created = append(created, *tok)

		s.publish(ctx, events.Event{
			Type:           events.TokenCreated,
			OrganizationID: tok.OrganizationID,
			MemberID:       tok.MemberID,
			MemberType:     string(tok.MemberType),
			Payload:        tok,
		})
	}

	return created, nil
}

// createSequenced retries token-number assignment a bounded number of times.
// Two concurrent ensure calls for the same (date, meal) can race to the same
// number; the unique index rejects one and it re-reads the new max.
func (s *TokenService) createSequenced(ctx context.Context, tok *models.MealToken) (*models.MealToken, error) {
	var lastErr error
	for attempt := 0; attempt < sequenceAttempts; attempt++ {
		created, err := s.tokens.CreateSequenced(ctx, tok)
		if err == nil {
			return created, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrConflictRetryable, lastErr)
}

// DateResult is the per-date outcome of a range generation run.
type DateResult struct {
	Date    string             `json:"date"`
	Created int                `json:"created"`
	Tokens  []models.MealToken `json:"tokens,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// EnsureTokensForRange runs EnsureTokensForDate for today and the following
// days-1 dates. A failing date is recorded in its result and does not abort
// the rest of the batch.
func (s *TokenService) EnsureTokensForRange(ctx context.Context, member models.MemberRef, days int) []DateResult {
	if days <= 0 {
		days = 1
	}

	today := s.today()
	results := make([]DateResult, 0, days)
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, i)
		res := DateResult{Date: date.Format(models.DateLayout)}

		tokens, err := s.EnsureTokensForDate(ctx, member, date)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Created = len(tokens)
			res.Tokens = tokens
		}
		results = append(results, res)
	}
	return results
}

// SkipToken cancels the member's PENDING token for one meal and date. Skip
// and cancel are the same transition; both land on CANCELLED.
func (s *TokenService) SkipToken(ctx context.Context, member models.MemberRef, date time.Time, mt models.MealType) (*models.MealToken, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	tok, err := s.tokens.GetToken(ctx, member, mt, date)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrTokenNotFound
	}

	if tok.Status != models.TokenPending {
		return nil, &InvalidTransitionError{Action: "skip", Current: tok.Status, Requested: models.TokenCancelled}
	}

	if s.enforceSkipDeadline {
		org, err := s.Organization(ctx, tok.OrganizationID)
		if err != nil {
			return nil, err
		}
		if !s.now().Before(SkipDeadline(org, mt, date)) {
			return nil, ErrSkipDeadlinePassed
		}
	}

	updated, err := s.tokens.UpdateStatus(ctx, tok.ID, models.TokenPending, models.TokenCancelled)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.staleTransition(ctx, member, date, mt, "skip", models.TokenCancelled)
		}
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:           events.TokenStatusChanged,
		OrganizationID: updated.OrganizationID,
		MemberID:       updated.MemberID,
		MemberType:     string(updated.MemberType),
		Payload:        updated,
	})
	return updated, nil
}

// staleTransition explains a guarded status update that matched zero rows:
// either the token vanished or another writer moved it off PENDING between
// our read and our write.
func (s *TokenService) staleTransition(ctx context.Context, member models.MemberRef, date time.Time, mt models.MealType, action string, requested models.TokenStatus) error {
	tok, err := s.tokens.GetToken(ctx, member, mt, date)
	if err != nil {
		return err
	}
	if tok == nil {
		return ErrTokenNotFound
	}
	return &InvalidTransitionError{Action: action, Current: tok.Status, Requested: requested}
}

// CollectToken marks a PENDING token COLLECTED and, for count-based packages,
// consumes one unit of the meal's quota. The quota mutation runs in a
// serializable transaction holding the package row lock so concurrent
// collections cannot push consumed past total.
func (s *TokenService) CollectToken(ctx context.Context, member models.MemberRef, date time.Time, mt models.MealType) (*models.MealToken, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	tok, err := s.tokens.GetToken(ctx, member, mt, date)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrTokenNotFound
	}
	if tok.Status != models.TokenPending {
		return nil, &InvalidTransitionError{Action: "collect", Current: tok.Status, Requested: models.TokenCollected}
	}

	pkg, err := s.packages.GetActivePackage(ctx, member)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, ErrNoActivePackage
	}

	var updated *models.MealToken
	if pkg.QuotaKind == models.QuotaCountBased {
		// The status change runs inside the quota transaction so the counter
		// and the COLLECTED state commit or roll back together.
		err = s.packages.ConsumeQuota(ctx, pkg.ID, mt, func(tx *sql.Tx, consumed, total int) error {
			if total > 0 && consumed >= total {
				return ErrQuotaExhausted
			}
			u, err := s.tokens.UpdateStatusTx(ctx, tx, tok.ID, models.TokenPending, models.TokenCollected)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return errStaleTransition
				}
				return err
			}
			updated = u
			return nil
		})
	} else {
		updated, err = s.tokens.UpdateStatus(ctx, tok.ID, models.TokenPending, models.TokenCollected)
		if errors.Is(err, repository.ErrNotFound) {
			err = errStaleTransition
		}
	}
	if err != nil {
		if errors.Is(err, errStaleTransition) {
			return nil, s.staleTransition(ctx, member, date, mt, "collect", models.TokenCollected)
		}
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:           events.TokenStatusChanged,
		OrganizationID: updated.OrganizationID,
		MemberID:       updated.MemberID,
		MemberType:     string(updated.MemberType),
		Payload:        updated,
	})
	return updated, nil
}

// ExpireElapsed sweeps PENDING tokens whose meal window has fully elapsed and
// marks them EXPIRED. Returns the number of tokens transitioned. Meant to run
// periodically; safe to run at any frequency.
func (s *TokenService) ExpireElapsed(ctx context.Context, now time.Time) (int, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	pending, err := s.tokens.ListPendingThrough(ctx, today)
	if err != nil {
		return 0, err
	}

	var expired []models.MealToken
	var ids []string
	for _, tok := range pending {
		org, err := s.Organization(ctx, tok.OrganizationID)
		if err != nil {
			// one bad org row must not stall expiry for everyone else
			log.Printf("expiry sweep: organization %s: %v", tok.OrganizationID, err)
			continue
		}
		if now.After(WindowEnd(org, tok.MealType, tok.TokenDate)) {
			expired = append(expired, tok)
			ids = append(ids, tok.ID)
		}
	}

	if err := s.tokens.MarkExpired(ctx, ids); err != nil {
		return 0, err
	}

	for i := range expired {
		tok := expired[i]
		tok.Status = models.TokenExpired
		s.publish(ctx, events.Event{
			Type:           events.TokenStatusChanged,
			OrganizationID: tok.OrganizationID,
			MemberID:       tok.MemberID,
			MemberType:     string(tok.MemberType),
			Payload:        &tok,
		})
	}
	return len(ids), nil
}

// ListTokens returns a member's token history plus aggregate stats.
func (s *TokenService) ListTokens(ctx context.Context, memberID string, f repository.TokenFilter) ([]models.MealToken, TokenStats, error) {
	tokens, err := s.tokens.ListTokens(ctx, memberID, f)
	if err != nil {
		return nil, TokenStats{}, err
	}
	return tokens, ComputeTokenStats(tokens), nil
}

func (s *TokenService) today() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}

// publish delivers a domain event on a best-effort basis. Delivery failures
// are logged and never fail the mutation that produced the event.
func (s *TokenService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Printf("publish %s: %v", event.Type, err)
	}
}
