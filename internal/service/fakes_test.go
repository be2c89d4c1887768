package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/mealpass/token-service/internal/events"
	"github.com/mealpass/token-service/internal/models"
	"github.com/mealpass/token-service/internal/repository"
)

// In-memory stores standing in for the Postgres repositories.

type fakeTokenStore struct {
	mu        sync.Mutex
	tokens    map[string]*models.MealToken
	conflicts int    // unique violations to inject before CreateSequenced succeeds
	afterGet  func() // runs after each GetToken, outside the lock
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]*models.MealToken)}
}

func (f *fakeTokenStore) GetToken(ctx context.Context, member models.MemberRef, mt models.MealType, date time.Time) (*models.MealToken, error) {
	f.mu.Lock()
	var found *models.MealToken
	for _, tok := range f.tokens {
		if tok.MemberID == member.ID && tok.MealType == mt && tok.TokenDate.Equal(date) {
			cp := *tok
			found = &cp
			break
		}
	}
	f.mu.Unlock()

	if f.afterGet != nil {
		f.afterGet()
	}
	return found, nil
}

func (f *fakeTokenStore) CreateSequenced(ctx context.Context, tok *models.MealToken) (*models.MealToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conflicts > 0 {
		f.conflicts--
		return nil, &pq.Error{Code: "23505"}
	}

	max := 0
	for _, t := range f.tokens {
		if t.TokenDate.Equal(tok.TokenDate) && t.MealType == tok.MealType && t.TokenNo > max {
			max = t.TokenNo
		}
	}

	now := time.Now().UTC()
	stored := *tok
	stored.TokenNo = max + 1
	stored.CreatedAt = now
	stored.UpdatedAt = now
	f.tokens[stored.ID] = &stored

	cp := stored
	return &cp, nil
}

func (f *fakeTokenStore) UpdateStatus(ctx context.Context, tokenID string, from, to models.TokenStatus) (*models.MealToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tok, ok := f.tokens[tokenID]
	if !ok || tok.Status != from {
		return nil, repository.ErrNotFound
	}

	now := time.Now().UTC()
	tok.Status = to
	tok.UpdatedAt = now
	switch to {
	case models.TokenCollected:
		tok.CollectedAt = &now
	case models.TokenCancelled:
		tok.CancelledAt = &now
	}

	cp := *tok
	return &cp, nil
}

func (f *fakeTokenStore) UpdateStatusTx(ctx context.Context, tx *sql.Tx, tokenID string, from, to models.TokenStatus) (*models.MealToken, error) {
	return f.UpdateStatus(ctx, tokenID, from, to)
}

func (f *fakeTokenStore) ListTokens(ctx context.Context, memberID string, filter repository.TokenFilter) ([]models.MealToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []models.MealToken{}
	for _, tok := range f.tokens {
		if tok.MemberID != memberID {
			continue
		}
		if filter.StartDate != nil && tok.TokenDate.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && tok.TokenDate.After(*filter.EndDate) {
			continue
		}
		if filter.Status != "" && tok.Status != filter.Status {
			continue
		}
		if filter.MealType != "" && tok.MealType != filter.MealType {
			continue
		}
		out = append(out, *tok)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TokenDate.Equal(out[j].TokenDate) {
			return out[i].TokenDate.After(out[j].TokenDate)
		}
		return out[i].TokenTime > out[j].TokenTime
	})
	return out, nil
}

func (f *fakeTokenStore) ListPendingThrough(ctx context.Context, date time.Time) ([]models.MealToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []models.MealToken{}
	for _, tok := range f.tokens {
		if tok.Status == models.TokenPending && !tok.TokenDate.After(date) {
			out = append(out, *tok)
		}
	}
	return out, nil
}

func (f *fakeTokenStore) MarkExpired(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		if tok, ok := f.tokens[id]; ok && tok.Status == models.TokenPending {
			tok.Status = models.TokenExpired
			tok.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

type fakePackageStore struct {
	pkgs map[string]*models.MemberPackage // keyed by member id
}

func newFakePackageStore(pkgs ...*models.MemberPackage) *fakePackageStore {
	f := &fakePackageStore{pkgs: make(map[string]*models.MemberPackage)}
	for _, p := range pkgs {
		f.pkgs[p.MemberID] = p
	}
	return f
}

func (f *fakePackageStore) GetActivePackage(ctx context.Context, member models.MemberRef) (*models.MemberPackage, error) {
	pkg, ok := f.pkgs[member.ID]
	if !ok {
		return nil, nil
	}
	cp := *pkg
	return &cp, nil
}

func (f *fakePackageStore) ConsumeQuota(ctx context.Context, packageID string, mt models.MealType, apply func(tx *sql.Tx, consumed, total int) error) error {
	for _, pkg := range f.pkgs {
		if pkg.ID != packageID {
			continue
		}
		plan := pkg.Plan(mt)
		if err := apply(nil, plan.QuotaConsumed, plan.QuotaTotal); err != nil {
			return err
		}
		switch mt {
		case models.MealBreakfast:
			pkg.Breakfast.QuotaConsumed++
		case models.MealLunch:
			pkg.Lunch.QuotaConsumed++
		case models.MealDinner:
			pkg.Dinner.QuotaConsumed++
		}
		return nil
	}
	return repository.ErrNotFound
}

type fakeSelectionStore struct {
	mu          sync.Mutex
	rows        map[string]*models.MealSelection // keyed by id
	orgID       string
	orgError    error
	upsertError error
	nextID      int
}

func newFakeSelectionStore(orgID string) *fakeSelectionStore {
	return &fakeSelectionStore{rows: make(map[string]*models.MealSelection), orgID: orgID}
}

func (f *fakeSelectionStore) find(member models.MemberRef, date time.Time) *models.MealSelection {
	for _, sel := range f.rows {
		if sel.MemberID == member.ID && sel.Date.Equal(date) {
			return sel
		}
	}
	return nil
}

func (f *fakeSelectionStore) GetSelection(ctx context.Context, member models.MemberRef, date time.Time) (*models.MealSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sel := f.find(member, date); sel != nil {
		cp := *sel
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeSelectionStore) ListSelections(ctx context.Context, member models.MemberRef, start, end *time.Time) ([]models.MealSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := []models.MealSelection{}
	for _, sel := range f.rows {
		if sel.MemberID != member.ID {
			continue
		}
		if start != nil && sel.Date.Before(*start) {
			continue
		}
		if end != nil && sel.Date.After(*end) {
			continue
		}
		out = append(out, *sel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (f *fakeSelectionStore) UpsertSelection(ctx context.Context, member models.MemberRef, organizationID string, date time.Time, breakfast, lunch, dinner bool) (*models.MealSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.upsertError != nil {
		return nil, f.upsertError
	}

	now := time.Now().UTC()
	if sel := f.find(member, date); sel != nil {
		sel.Breakfast = &breakfast
		sel.Lunch = &lunch
		sel.Dinner = &dinner
		sel.UpdatedAt = now
		cp := *sel
		return &cp, nil
	}

	f.nextID++
	sel := &models.MealSelection{
		ID:             string(rune('a' + f.nextID)),
		MemberID:       member.ID,
		MemberType:     member.Type,
		OrganizationID: organizationID,
		Date:           date,
		Breakfast:      &breakfast,
		Lunch:          &lunch,
		Dinner:         &dinner,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.rows[sel.ID] = sel
	cp := *sel
	return &cp, nil
}

func (f *fakeSelectionStore) DeleteSelection(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeSelectionStore) MemberOrganization(ctx context.Context, member models.MemberRef) (string, error) {
	if f.orgError != nil {
		return "", f.orgError
	}
	return f.orgID, nil
}

// setSelection seeds an explicit selection row bypassing the upsert path.
func (f *fakeSelectionStore) setSelection(member models.MemberRef, date time.Time, breakfast, lunch, dinner *bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.rows[string(rune('A'+f.nextID))] = &models.MealSelection{
		ID:         string(rune('A' + f.nextID)),
		MemberID:   member.ID,
		MemberType: member.Type,
		Date:       date,
		Breakfast:  breakfast,
		Lunch:      lunch,
		Dinner:     dinner,
	}
}

type fakeOrgStore struct {
	org  *models.Organization
	errs map[string]error // per-id lookup failures
}

func (f *fakeOrgStore) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	if f.org == nil || f.org.ID != id {
		return nil, nil
	}
	cp := *f.org
	return &cp, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) byType(t string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
