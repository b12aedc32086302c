package identity

import (
	"context"
	"errors"
	"testing"
)

type failingDirectory struct{}

func (failingDirectory) Accounts(context.Context) ([]string, error) {
	return nil, errors.New("namespace unavailable")
}

func TestResolve_NoRequestedAddress(t *testing.T) {
	t.Parallel()

	id := Resolve(context.Background(), StaticDirectory{"owner@example.com"}, "")
	if !id.IsValid {
		t.Error("IsValid: got false, want true")
	}
	if id.Account != "" || id.Address != "" || id.IsAlias {
		t.Errorf("expected trivial host-default identity, got %+v", id)
	}
}

func TestResolve_DirectMatch(t *testing.T) {
	t.Parallel()

	dir := StaticDirectory{"owner@example.com", "second@example.com"}
	id := Resolve(context.Background(), dir, "Second@Example.com")

	if !id.IsValid {
		t.Error("IsValid: got false, want true")
	}
	if id.IsAlias {
		t.Error("IsAlias: got true, want false for direct match")
	}
	if id.Account != "second@example.com" {
		t.Errorf("Account: got %q, want %q", id.Account, "second@example.com")
	}
}

func TestResolve_AliasOfPrimary(t *testing.T) {
	t.Parallel()

	dir := StaticDirectory{"owner@example.com", "second@example.com"}
	id := Resolve(context.Background(), dir, "newsletter@example.com")

	if !id.IsValid {
		t.Error("IsValid: got false, want true")
	}
	if !id.IsAlias {
		t.Error("IsAlias: got false, want true for unmatched address")
	}
	if id.Account != "owner@example.com" {
		t.Errorf("Account: got %q, want primary %q", id.Account, "owner@example.com")
	}
	if id.Address != "newsletter@example.com" {
		t.Errorf("Address: got %q, want %q", id.Address, "newsletter@example.com")
	}
}

func TestResolve_LookupFailure(t *testing.T) {
	t.Parallel()

	id := Resolve(context.Background(), failingDirectory{}, "anyone@example.com")
	if id.IsValid {
		t.Error("IsValid: got true, want false on lookup failure")
	}
}

func TestResolve_EmptyDirectory(t *testing.T) {
	t.Parallel()

	id := Resolve(context.Background(), StaticDirectory{}, "anyone@example.com")
	if id.IsValid {
		t.Error("IsValid: got true, want false with no configured accounts")
	}
}
