package models

import (
	"fmt"
	"strings"
)

// Status is the wire form of a product's lifecycle state, exactly as the
// ledger gateway's schema spells it.
type Status string

const (
	StatusRegistered Status = "Registered"
	StatusInTransit  Status = "InTransit"
	StatusDelivered  Status = "Delivered"
	StatusVerified   Status = "Verified"
	StatusRejected   Status = "Rejected"
)

// statusTokens maps internal short tokens to wire tokens. Callers work with
// either form; everything crossing the gateway boundary uses the wire form.
var statusTokens = map[string]Status{
	"REGISTERED": StatusRegistered,
	"IN_TRANSIT": StatusInTransit,
	"DELIVERED":  StatusDelivered,
	"VERIFIED":   StatusVerified,
	"REJECTED":   StatusRejected,
}

var statusInternal = map[Status]string{
	StatusRegistered: "REGISTERED",
	StatusInTransit:  "IN_TRANSIT",
	StatusDelivered:  "DELIVERED",
	StatusVerified:   "VERIFIED",
	StatusRejected:   "REJECTED",
}

// ParseStatus accepts a wire token or an internal token and returns the wire
// form. Anything else is an error; statuses never pass through unchecked.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("status is required")
	}
	if _, ok := statusInternal[Status(trimmed)]; ok {
		return Status(trimmed), nil
	}
	if wire, ok := statusTokens[strings.ToUpper(trimmed)]; ok {
		return wire, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// InternalToken returns the short token used by local tooling for a wire
// status, or the raw string if the status is outside the known set.
func (s Status) InternalToken() string {
	if tok, ok := statusInternal[s]; ok {
		return tok
	}
	return string(s)
}

// Valid reports whether the status is one of the five enumerated values.
func (s Status) Valid() bool {
	_, ok := statusInternal[s]
	return ok
}

// Terminal reports whether verify/reject already concluded this product's
// inspection. Whether terminality is enforced is an orchestrator option.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusRejected
}

const ownerPrefix = "0x"

// CanonicalOwner normalizes an account address to the single prefixed form
// the gateway expects. It is idempotent and shared by every call site that
// transmits an address; inconsistent normalization makes custody lookups
// silently miss.
func CanonicalOwner(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return ""
	}
	if strings.HasPrefix(owner, ownerPrefix) {
		return owner
	}
	return ownerPrefix + owner
}

// Account identifies an owner on a specific chain. Transfers may target
// accounts on other chains.
type Account struct {
	ChainID string `json:"chainId"`
	Owner   string `json:"owner"`
}

// Canonical returns the account with its owner in canonical form.
func (a Account) Canonical() Account {
	return Account{ChainID: strings.TrimSpace(a.ChainID), Owner: CanonicalOwner(a.Owner)}
}

// Checkpoint is an immutable location/status/note record appended to a
// product's history. Timestamp is ledger time in microseconds.
type Checkpoint struct {
	Timestamp int64  `json:"timestamp"`
	Location  string `json:"location"`
	Status    Status `json:"status"`
	Party     string `json:"party"`
	Notes     string `json:"notes,omitempty"`
}

// VerificationRecord is an immutable pass/fail inspection outcome.
type VerificationRecord struct {
	Verifier  string `json:"verifier"`
	Timestamp int64  `json:"timestamp"`
	Passed    bool   `json:"passed"`
	Details   string `json:"details"`
}

// Product is the ledger's view of a tracked item. TokenID, Name and
// Manufacturer are immutable once assigned; Checkpoints and Verifications
// only ever grow.
type Product struct {
	TokenID       string               `json:"tokenId"`
	Owner         string               `json:"owner"`
	Name          string               `json:"name"`
	Manufacturer  string               `json:"manufacturer"`
	Status        Status               `json:"status"`
	Payload       []byte               `json:"payload,omitempty"`
	Checkpoints   []Checkpoint         `json:"checkpoints"`
	Verifications []VerificationRecord `json:"verifications"`
}

// Clone returns a deep copy so callers can hand out view snapshots without
// aliasing the append-only histories.
func (p Product) Clone() Product {
	out := p
	out.Payload = append([]byte(nil), p.Payload...)
	out.Checkpoints = append([]Checkpoint(nil), p.Checkpoints...)
	out.Verifications = append([]VerificationRecord(nil), p.Verifications...)
	return out
}
