// services/errors.go
package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNotFound            = errors.New("not found")
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrCommitFailure marks a ledger unit that did not commit. Nothing was applied; callers may retry.
	ErrCommitFailure = errors.New("commit failure")

	ErrAlreadyQueued  = errors.New("participant already queued or in a live match")
	ErrMatchNotFound  = errors.New("match not found")
	ErrMatchNotActive = errors.New("match is not active")
	ErrNotParticipant = errors.New("connection is not a participant of this match")

	// ErrBeneficiariesChanged means the hierarchy changed between planning a
	// settlement and locking its wallets. It surfaces wrapped in ErrCommitFailure.
	ErrBeneficiariesChanged = errors.New("settlement beneficiaries changed")
)

var businessErrors = []error{
	ErrInvalidArgument,
	ErrInsufficientFunds,
	ErrNotFound,
	ErrAuthorizationDenied,
	ErrCommitFailure,
}

// classifyLedgerError keeps business failures as they are and turns any other
// failure of a ledger unit into ErrCommitFailure.
func classifyLedgerError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range businessErrors {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrCommitFailure, err)
}
