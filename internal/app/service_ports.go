package app

import (
	"log/slog"
	"time"
)

// AliasLookup resolves a canonical address to a human-readable name.
// Returning false means the address has no alias and should be shown as-is.
type AliasLookup func(address string) (string, bool)

// Options configures a Service.
type Options struct {
	// ChainID is the client's home chain, used for blob publication and
	// notification subscription.
	ChainID string

	// Owner is the operator's account address. It is canonicalized once at
	// construction; all outgoing calls use the canonical form.
	Owner string

	// StrictTerminalStates rejects status mutations on products already in
	// a terminal state (Verified, Rejected) before contacting the ledger.
	// Off by default: the chain itself accepts such transitions.
	StrictTerminalStates bool

	// RefreshMinInterval spaces out consecutive view refreshes driven by
	// chain notifications. Zero disables pacing.
	RefreshMinInterval time.Duration

	AliasLookup AliasLookup
	Logger      *slog.Logger
}

// RegisterReceipt reports the outcome of a completed registration.
type RegisterReceipt struct {
	TokenID  string
	BlobHash string
}
