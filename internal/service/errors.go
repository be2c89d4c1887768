package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mealpass/token-service/internal/models"
)

var (
	ErrNoActivePackage         = errors.New("no active package found for this member")
	ErrMemberNotFound          = errors.New("member not found")
	ErrOrganizationNotFound    = errors.New("organization not found")
	ErrTokenNotFound           = errors.New("no meal token found for this date and meal type")
	ErrSelectionNotFound       = errors.New("selection not found")
	ErrDateOutOfValidity       = errors.New("date is outside package validity")
	ErrSkipDeadlinePassed      = errors.New("skip deadline has passed for this meal")
	ErrQuotaExhausted          = errors.New("meal quota exhausted for this package")
	ErrSelectionsNotConfigured = errors.New("meal selections feature is not configured")
	ErrConflictRetryable       = errors.New("token number assignment conflicted, try again")
)

// errStaleTransition marks a guarded status update that matched zero rows
// because another writer moved the token first. Callers re-read the token to
// build the user-facing InvalidTransitionError.
var errStaleTransition = errors.New("token status changed concurrently")

// InvalidTransitionError rejects an illegal token status change, carrying
// enough context for the caller's message ("cannot skip a meal that is
// already collected").
type InvalidTransitionError struct {
	Action    string // "skip", "cancel", "collect"
	Current   models.TokenStatus
	Requested models.TokenStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a meal that is already %s",
		e.Action, strings.ToLower(string(e.Current)))
}
