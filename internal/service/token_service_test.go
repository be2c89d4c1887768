package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealpass/token-service/internal/models"
)

var memberM = models.MemberRef{ID: "member-1", Type: models.MemberStudent}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

func boolPtr(b bool) *bool { return &b }

// breakfastOnlyPackage has breakfast enabled (quota 30, consumed 5) and
// lunch/dinner disabled.
func breakfastOnlyPackage(member models.MemberRef) *models.MemberPackage {
	return &models.MemberPackage{
		ID:             "pkg-1",
		MemberID:       member.ID,
		MemberType:     member.Type,
		OrganizationID: "org-1",
		QuotaKind:      models.QuotaCountBased,
		Breakfast:      models.MealPlan{Enabled: true, QuotaTotal: 30, QuotaConsumed: 5},
		IsActive:       true,
		Status:         models.PackageActive,
	}
}

type engineFixture struct {
	svc        *TokenService
	tokens     *fakeTokenStore
	packages   *fakePackageStore
	selections *fakeSelectionStore
	orgs       *fakeOrgStore
	publisher  *fakePublisher
}

func newEngine(pkgs ...*models.MemberPackage) *engineFixture {
	f := &engineFixture{
		tokens:     newFakeTokenStore(),
		packages:   newFakePackageStore(pkgs...),
		selections: newFakeSelectionStore("org-1"),
		orgs:       &fakeOrgStore{},
		publisher:  &fakePublisher{},
	}
	f.svc = NewTokenService(f.tokens, f.packages, f.selections, f.orgs, f.publisher, false)
	return f
}

func TestEnsureTokensForDate_CreatesPendingBreakfast(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-01")

	created, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	require.Len(t, created, 1)

	tok := created[0]
	assert.Equal(t, models.MealBreakfast, tok.MealType)
	assert.Equal(t, models.TokenPending, tok.Status)
	assert.Equal(t, 1, tok.TokenNo)
	assert.Equal(t, "org-1", tok.OrganizationID)
	assert.Equal(t, "07:00:00", tok.TokenTime)
}

func TestEnsureTokensForDate_Idempotent(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-01")

	first, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	require.Len(t, first, 1)

	for i := 0; i < 3; i++ {
		again, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
		require.NoError(t, err)
		assert.Empty(t, again, "repeat ensure must be a no-op")
	}

	assert.Len(t, f.tokens.tokens, 1, "no duplicate tokens")
}

func TestEnsureTokensForDate_OptOutCreatesCancelledToken(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-02")
	f.selections.setSelection(memberM, date, boolPtr(false), nil, nil)

	created, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	require.Len(t, created, 1, "opted-out meals still get a token")
	assert.Equal(t, models.TokenCancelled, created[0].Status)
	assert.Equal(t, 1, created[0].TokenNo)
}

func TestEnsureTokensForDate_UnsetSelectionFlagMeansWanted(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-02")
	// row exists but the breakfast flag was never set
	f.selections.setSelection(memberM, date, nil, boolPtr(false), nil)

	created, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, models.TokenPending, created[0].Status)
}

func TestEnsureTokensForDate_NoActivePackage(t *testing.T) {
	f := newEngine()

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, mustDate(t, "2024-03-01"))
	assert.ErrorIs(t, err, ErrNoActivePackage)
}

func TestEnsureTokensForDate_DateOutOfValidity(t *testing.T) {
	pkg := breakfastOnlyPackage(memberM)
	until := mustDate(t, "2024-02-28")
	pkg.ValidUntil = &until
	f := newEngine(pkg)

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, mustDate(t, "2024-03-01"))
	assert.ErrorIs(t, err, ErrDateOutOfValidity)
}

func TestEnsureTokensForDate_WeekdayRules(t *testing.T) {
	pkg := breakfastOnlyPackage(memberM)
	pkg.Lunch = models.MealPlan{Enabled: true, Days: []string{"monday", "wednesday"}, QuotaTotal: 10}
	f := newEngine(pkg)

	// 2024-03-01 is a Friday: breakfast only.
	created, err := f.svc.EnsureTokensForDate(context.Background(), memberM, mustDate(t, "2024-03-01"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, models.MealBreakfast, created[0].MealType)

	// 2024-03-04 is a Monday: breakfast and lunch.
	created, err = f.svc.EnsureTokensForDate(context.Background(), memberM, mustDate(t, "2024-03-04"))
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, models.MealBreakfast, created[0].MealType)
	assert.Equal(t, models.MealLunch, created[1].MealType)
}

func TestEnsureTokensForDate_SequencePerMealPerDay(t *testing.T) {
	other := models.MemberRef{ID: "member-2", Type: models.MemberStaff}
	pkgOther := breakfastOnlyPackage(other)
	pkgOther.ID = "pkg-2"
	pkgOther.MemberID = other.ID
	f := newEngine(breakfastOnlyPackage(memberM), pkgOther)
	date := mustDate(t, "2024-03-01")

	first, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	second, err := f.svc.EnsureTokensForDate(context.Background(), other, date)
	require.NoError(t, err)

	assert.Equal(t, 1, first[0].TokenNo)
	assert.Equal(t, 2, second[0].TokenNo, "sequence is global per (date, meal)")
}

func TestEnsureTokensForDate_RetriesSequenceConflicts(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	f.tokens.conflicts = 2 // two losers, third attempt wins

	created, err := f.svc.EnsureTokensForDate(context.Background(), memberM, mustDate(t, "2024-03-01"))
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestEnsureTokensForDate_ConflictRetryExhausted(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	f.tokens.conflicts = 3

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, mustDate(t, "2024-03-01"))
	assert.ErrorIs(t, err, ErrConflictRetryable)
}

func TestEnsureTokensForDate_PublishesTokenCreated(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, mustDate(t, "2024-03-01"))
	require.NoError(t, err)

	created := f.publisher.byType("token.created")
	require.Len(t, created, 1)
	assert.Equal(t, memberM.ID, created[0].MemberID)
}

func TestEnsureTokensForRange_RecordsPerDateFailures(t *testing.T) {
	pkg := breakfastOnlyPackage(memberM)
	f := newEngine(pkg)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	until := today.AddDate(0, 0, 1)
	pkg.ValidUntil = &until

	results := f.svc.EnsureTokensForRange(context.Background(), memberM, 3)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Created)
	assert.Equal(t, 1, results[1].Created)
	assert.Empty(t, results[1].Error)
	assert.Contains(t, results[2].Error, "validity", "third day is past valid_until")
}

func TestSkipToken_CancelsPendingToken(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-01")

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)

	tok, err := f.svc.SkipToken(context.Background(), memberM, date, models.MealBreakfast)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCancelled, tok.Status)
	require.NotNil(t, tok.CancelledAt)

	changed := f.publisher.byType("token.status_changed")
	assert.Len(t, changed, 1)
}

func TestSkipToken_AlreadyCancelled(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-01")

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	_, err = f.svc.SkipToken(context.Background(), memberM, date, models.MealBreakfast)
	require.NoError(t, err)

	_, err = f.svc.SkipToken(context.Background(), memberM, date, models.MealBreakfast)
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, models.TokenCancelled, transition.Current)
	assert.EqualError(t, err, "cannot skip a meal that is already cancelled")
}

func TestSkipToken_CollectedIsTerminal(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-01")

	created, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	_, err = f.tokens.UpdateStatus(context.Background(), created[0].ID, models.TokenPending, models.TokenCollected)
	require.NoError(t, err)

	_, err = f.svc.SkipToken(context.Background(), memberM, date, models.MealBreakfast)
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.EqualError(t, err, "cannot skip a meal that is already collected")
}

func TestSkipToken_NotFound(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))

	_, err := f.svc.SkipToken(context.Background(), memberM, mustDate(t, "2024-03-01"), models.MealBreakfast)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestSkipToken_DeadlineEnforced(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	f.svc.enforceSkipDeadline = true
	f.orgs.org = &models.Organization{ID: "org-1", Name: "Campus", MealSkipDeadline: 30}

	date := mustDate(t, "2024-03-01")
	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)

	// breakfast starts 07:00; deadline is 06:30
	f.svc.now = func() time.Time {
		return time.Date(2024, 3, 1, 6, 45, 0, 0, time.UTC)
	}
	_, err = f.svc.SkipToken(context.Background(), memberM, date, models.MealBreakfast)
	assert.ErrorIs(t, err, ErrSkipDeadlinePassed)

	f.svc.now = func() time.Time {
		return time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	}
	tok, err := f.svc.SkipToken(context.Background(), memberM, date, models.MealBreakfast)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCancelled, tok.Status)
}

func TestSkipToken_ConcurrentCollectWins(t *testing.T) {
	f := newEngine(breakfastOnlyPackage(memberM))
	date := mustDate(t, "2024-03-01")

	created, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	id := created[0].ID

	// a collection lands between SkipToken's read and its write
	var once sync.Once
	f.tokens.afterGet = func() {
		once.Do(func() {
			_, err := f.tokens.UpdateStatus(context.Background(), id, models.TokenPending, models.TokenCollected)
			require.NoError(t, err)
		})
	}

	_, err = f.svc.SkipToken(context.Background(), memberM, date, models.MealBreakfast)
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.EqualError(t, err, "cannot skip a meal that is already collected")

	f.tokens.afterGet = nil
	tok, err := f.tokens.GetToken(context.Background(), memberM, models.MealBreakfast, date)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCollected, tok.Status, "the collection must survive the losing skip")
}

func TestCollectToken_CountBasedConsumesQuota(t *testing.T) {
	pkg := breakfastOnlyPackage(memberM) // quota 30, consumed 5
	f := newEngine(pkg)
	date := mustDate(t, "2024-03-01")

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)

	tok, err := f.svc.CollectToken(context.Background(), memberM, date, models.MealBreakfast)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCollected, tok.Status)
	require.NotNil(t, tok.CollectedAt)
	assert.Equal(t, 6, pkg.Breakfast.QuotaConsumed)

	changed := f.publisher.byType("token.status_changed")
	assert.Len(t, changed, 1)
}

func TestCollectToken_QuotaExhausted(t *testing.T) {
	pkg := breakfastOnlyPackage(memberM)
	pkg.Breakfast.QuotaConsumed = 30
	f := newEngine(pkg)
	date := mustDate(t, "2024-03-01")

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)

	_, err = f.svc.CollectToken(context.Background(), memberM, date, models.MealBreakfast)
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	// the rejected collection leaves both sides untouched
	tok, err := f.tokens.GetToken(context.Background(), memberM, models.MealBreakfast, date)
	require.NoError(t, err)
	assert.Equal(t, models.TokenPending, tok.Status)
	assert.Equal(t, 30, pkg.Breakfast.QuotaConsumed)
}

func TestCollectToken_BalanceBasedPackage(t *testing.T) {
	pkg := breakfastOnlyPackage(memberM)
	pkg.QuotaKind = models.QuotaBalanceBased
	pkg.Balance = 120.50
	f := newEngine(pkg)
	date := mustDate(t, "2024-03-01")

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)

	tok, err := f.svc.CollectToken(context.Background(), memberM, date, models.MealBreakfast)
	require.NoError(t, err)
	assert.Equal(t, models.TokenCollected, tok.Status)
	require.NotNil(t, tok.CollectedAt)

	_, err = f.svc.CollectToken(context.Background(), memberM, date, models.MealBreakfast)
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.EqualError(t, err, "cannot collect a meal that is already collected")
}

func TestExpireElapsed(t *testing.T) {
	pkg := breakfastOnlyPackage(memberM)
	pkg.Dinner = models.MealPlan{Enabled: true, QuotaTotal: 10}
	f := newEngine(pkg)

	yesterday := mustDate(t, "2024-03-01")
	today := mustDate(t, "2024-03-02")

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, yesterday)
	require.NoError(t, err)
	_, err = f.svc.EnsureTokensForDate(context.Background(), memberM, today)
	require.NoError(t, err)

	// 2024-03-02 18:00: yesterday's meals have elapsed, today's breakfast
	// (ends 09:00) has too, today's dinner (ends 21:00) has not.
	now := time.Date(2024, 3, 2, 18, 0, 0, 0, time.UTC)
	expired, err := f.svc.ExpireElapsed(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, expired)

	dinner, err := f.tokens.GetToken(context.Background(), memberM, models.MealDinner, today)
	require.NoError(t, err)
	assert.Equal(t, models.TokenPending, dinner.Status)

	breakfast, err := f.tokens.GetToken(context.Background(), memberM, models.MealBreakfast, today)
	require.NoError(t, err)
	assert.Equal(t, models.TokenExpired, breakfast.Status)
}

func TestExpireElapsed_SkipsFailedOrgLookup(t *testing.T) {
	other := models.MemberRef{ID: "member-2", Type: models.MemberStaff}
	pkgOther := breakfastOnlyPackage(other)
	pkgOther.ID = "pkg-2"
	pkgOther.OrganizationID = "org-2"
	f := newEngine(breakfastOnlyPackage(memberM), pkgOther)
	date := mustDate(t, "2024-03-01")

	_, err := f.svc.EnsureTokensForDate(context.Background(), memberM, date)
	require.NoError(t, err)
	_, err = f.svc.EnsureTokensForDate(context.Background(), other, date)
	require.NoError(t, err)

	f.orgs.errs = map[string]error{"org-2": errors.New("connection reset")}

	expired, err := f.svc.ExpireElapsed(context.Background(), time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err, "one bad org row must not abort the sweep")
	assert.Equal(t, 1, expired)

	skipped, err := f.tokens.GetToken(context.Background(), other, models.MealBreakfast, date)
	require.NoError(t, err)
	assert.Equal(t, models.TokenPending, skipped.Status, "left for the next sweep")
}
