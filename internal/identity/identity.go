// Package identity resolves the sender identity for a dispatch run,
// including alias / send-on-behalf semantics.
package identity

import (
	"context"
	"strings"
)

// AccountDirectory lists the sending accounts configured on the mail session.
// The first entry is the primary (default) account.
type AccountDirectory interface {
	Accounts(ctx context.Context) ([]string, error)
}

// SenderIdentity is the resolved sending identity, computed once per run and
// shared read-only across all sends.
type SenderIdentity struct {
	// IsValid is false when the account lookup itself failed; the dispatcher
	// then falls back to the host default instead of aborting.
	IsValid bool

	// Account is the authenticated account the message is submitted through.
	// Empty means "host default".
	Account string

	// Address is the display address requested for the run. When IsAlias is
	// set, Address is presented on behalf of Account, which is always the
	// primary account, never a directly-authenticated match.
	Address string
	IsAlias bool
}

// Resolve maps an optional requested sender address to a concrete identity.
//
// No requested address yields the trivial host-default identity. A requested
// address matching a configured account is used directly. Anything else is
// treated as an alias of the primary account; this is a heuristic, not a
// verified send-on-behalf capability check, so the dispatcher logs a warning
// at send time.
func Resolve(ctx context.Context, dir AccountDirectory, requested string) SenderIdentity {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return SenderIdentity{IsValid: true}
	}

	accounts, err := dir.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return SenderIdentity{IsValid: false, Address: requested}
	}

	for _, acct := range accounts {
		if strings.EqualFold(acct, requested) {
			return SenderIdentity{
				IsValid: true,
				Account: acct,
				Address: requested,
			}
		}
	}

	return SenderIdentity{
		IsValid: true,
		Account: accounts[0],
		Address: requested,
		IsAlias: true,
	}
}

// StaticDirectory is an AccountDirectory backed by a fixed account list,
// as configured for the run.
type StaticDirectory []string

// Accounts returns the configured account list.
func (d StaticDirectory) Accounts(context.Context) ([]string, error) {
	return d, nil
}
