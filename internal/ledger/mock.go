package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"trackchain/go-client/pkg/models"
)

// MockLedger is the in-process transport: a single-node ledger with the same
// observable semantics as the remote service. It backs tests and offline
// development, the way the mock transport does in a networked daemon.
type MockLedger struct {
	mu         sync.Mutex
	chainID    string
	blobs      map[string][]byte
	products   map[string]mockProduct
	registered uint64
	subs       map[string]map[int]func(Notification)
	nextSub    int
	now        func() time.Time
}

type mockProduct struct {
	chainID string
	product models.Product
}

func NewMockLedger(chainID string) *MockLedger {
	return &MockLedger{
		chainID:  chainID,
		blobs:    make(map[string][]byte),
		products: make(map[string]mockProduct),
		subs:     make(map[string]map[int]func(Notification)),
		now:      time.Now,
	}
}

// SetClock replaces the ledger clock, for tests that assert on timestamps.
func (m *MockLedger) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MockLedger) timestampLocked() int64 {
	return m.now().UnixMicro()
}

func (m *MockLedger) chainLocationLocked() string {
	return fmt.Sprintf("Chain %s", m.chainID)
}

func (m *MockLedger) OwnedProducts(_ context.Context, owner string) (map[string]models.Product, error) {
	owner = models.CanonicalOwner(owner)
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.Product)
	for tokenID, entry := range m.products {
		if entry.chainID != m.chainID || entry.product.Owner != owner {
			continue
		}
		out[tokenID] = entry.product.Clone()
	}
	return out, nil
}

func (m *MockLedger) Product(_ context.Context, tokenID string) (models.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		return models.Product{}, false, nil
	}
	return entry.product.Clone(), true, nil
}

func (m *MockLedger) ProductHistory(_ context.Context, tokenID string) ([]models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		return nil, rejectUnknownToken("productHistory", tokenID)
	}
	return append([]models.Checkpoint(nil), entry.product.Checkpoints...), nil
}

func (m *MockLedger) VerificationRecords(_ context.Context, tokenID string) ([]models.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		return nil, rejectUnknownToken("verificationRecords", tokenID)
	}
	return append([]models.VerificationRecord(nil), entry.product.Verifications...), nil
}

func (m *MockLedger) PublishDataBlob(_ context.Context, chainID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &RemoteRejection{Op: "publishDataBlob", Message: "blob is empty"}
	}
	if len(data) > MaxBlobBytes {
		return "", &RemoteRejection{Op: "publishDataBlob", Message: "blob exceeds size quota"}
	}
	sum := sha256.Sum256(data)
	hash := base58.Encode(sum[:])

	m.mu.Lock()
	// Content addressed: republishing identical bytes lands on the same hash.
	m.blobs[hash] = append([]byte(nil), data...)
	m.mu.Unlock()
	_ = chainID
	return hash, nil
}

func (m *MockLedger) RegisterProduct(_ context.Context, manufacturer, name, blobHash string) (string, error) {
	manufacturer = models.CanonicalOwner(manufacturer)
	if strings.TrimSpace(name) == "" {
		return "", &RemoteRejection{Op: "registerProduct", Message: "product name is required"}
	}

	m.mu.Lock()
	payload, ok := m.blobs[blobHash]
	if !ok {
		m.mu.Unlock()
		return "", &RemoteRejection{Op: "registerProduct", Message: fmt.Sprintf("data blob %q does not exist", blobHash)}
	}

	tokenID := m.mintTokenIDLocked(manufacturer, name, blobHash)
	product := models.Product{
		TokenID:      tokenID,
		Owner:        manufacturer,
		Name:         name,
		Manufacturer: manufacturer,
		Status:       models.StatusRegistered,
		Payload:      append([]byte(nil), payload...),
		Checkpoints: []models.Checkpoint{{
			Timestamp: m.timestampLocked(),
			Location:  m.chainLocationLocked(),
			Status:    models.StatusRegistered,
			Party:     manufacturer,
			Notes:     "Product registered",
		}},
		Verifications: []models.VerificationRecord{},
	}
	m.products[tokenID] = mockProduct{chainID: m.chainID, product: product}
	m.registered++
	chain := m.chainID
	m.mu.Unlock()

	m.notify(chain, "registerProduct")
	return tokenID, nil
}

func (m *MockLedger) TransferCustody(_ context.Context, sourceOwner, tokenID string, target models.Account) error {
	sourceOwner = models.CanonicalOwner(sourceOwner)
	target = target.Canonical()
	if target.Owner == "" || target.ChainID == "" {
		return &RemoteRejection{Op: "transferCustody", Message: "target chain id and owner are required"}
	}

	m.mu.Lock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		m.mu.Unlock()
		return rejectUnknownToken("transferCustody", tokenID)
	}
	if entry.product.Owner != sourceOwner {
		m.mu.Unlock()
		return &RemoteRejection{Op: "transferCustody", Message: "source owner does not hold custody"}
	}

	product := entry.product
	product.Checkpoints = append(product.Checkpoints, models.Checkpoint{
		Timestamp: m.timestampLocked(),
		Location:  m.chainLocationLocked(),
		Status:    models.StatusInTransit,
		Party:     product.Owner,
		Notes:     fmt.Sprintf("Transfer to %s", target.Owner),
	})
	product.Status = models.StatusInTransit

	sourceChain := m.chainID
	if target.ChainID == m.chainID {
		product.Owner = target.Owner
		product.Checkpoints = append(product.Checkpoints, models.Checkpoint{
			Timestamp: m.timestampLocked(),
			Location:  m.chainLocationLocked(),
			Status:    models.StatusDelivered,
			Party:     target.Owner,
			Notes:     "Delivered (same chain)",
		})
		product.Status = models.StatusDelivered
		m.products[tokenID] = mockProduct{chainID: m.chainID, product: product}
	} else {
		// Cross-chain: the product leaves this chain's view. Delivery is the
		// target chain's business.
		product.Owner = target.Owner
		m.products[tokenID] = mockProduct{chainID: target.ChainID, product: product}
	}
	m.mu.Unlock()

	m.notify(sourceChain, "transferCustody")
	if target.ChainID != sourceChain {
		m.notify(target.ChainID, "transferCustody")
	}
	return nil
}

func (m *MockLedger) AddCheckpoint(_ context.Context, tokenID, location string, status models.Status, notes string) error {
	if !status.Valid() {
		return &RemoteRejection{Op: "addCheckpoint", Message: fmt.Sprintf("invalid status %q", status)}
	}
	m.mu.Lock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		m.mu.Unlock()
		return rejectUnknownToken("addCheckpoint", tokenID)
	}
	product := entry.product
	// A checkpoint is a free-form snapshot; it does not move the product's
	// status, unlike updateStatus.
	product.Checkpoints = append(product.Checkpoints, models.Checkpoint{
		Timestamp: m.timestampLocked(),
		Location:  location,
		Status:    status,
		Party:     product.Owner,
		Notes:     notes,
	})
	m.products[tokenID] = mockProduct{chainID: m.chainID, product: product}
	chain := m.chainID
	m.mu.Unlock()

	m.notify(chain, "addCheckpoint")
	return nil
}

func (m *MockLedger) UpdateStatus(_ context.Context, tokenID string, newStatus models.Status, location, notes string) error {
	if !newStatus.Valid() {
		return &RemoteRejection{Op: "updateStatus", Message: fmt.Sprintf("invalid status %q", newStatus)}
	}
	m.mu.Lock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		m.mu.Unlock()
		return rejectUnknownToken("updateStatus", tokenID)
	}
	product := entry.product
	product.Status = newStatus
	product.Checkpoints = append(product.Checkpoints, models.Checkpoint{
		Timestamp: m.timestampLocked(),
		Location:  location,
		Status:    newStatus,
		Party:     product.Owner,
		Notes:     notes,
	})
	m.products[tokenID] = mockProduct{chainID: m.chainID, product: product}
	chain := m.chainID
	m.mu.Unlock()

	m.notify(chain, "updateStatus")
	return nil
}

func (m *MockLedger) VerifyProduct(_ context.Context, tokenID string, passed bool, details string) error {
	m.mu.Lock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		m.mu.Unlock()
		return rejectUnknownToken("verifyProduct", tokenID)
	}
	product := entry.product
	product.Verifications = append(product.Verifications, models.VerificationRecord{
		Verifier:  product.Owner,
		Timestamp: m.timestampLocked(),
		Passed:    passed,
		Details:   details,
	})
	outcome := models.StatusVerified
	note := fmt.Sprintf("Verification passed: %s", details)
	if !passed {
		outcome = models.StatusRejected
		note = fmt.Sprintf("Verification failed: %s", details)
	}
	product.Status = outcome
	product.Checkpoints = append(product.Checkpoints, models.Checkpoint{
		Timestamp: m.timestampLocked(),
		Location:  m.chainLocationLocked(),
		Status:    outcome,
		Party:     product.Owner,
		Notes:     note,
	})
	m.products[tokenID] = mockProduct{chainID: m.chainID, product: product}
	chain := m.chainID
	m.mu.Unlock()

	m.notify(chain, "verifyProduct")
	return nil
}

func (m *MockLedger) RejectProduct(_ context.Context, tokenID, reason string) error {
	m.mu.Lock()
	entry, ok := m.products[tokenID]
	if !ok || entry.chainID != m.chainID {
		m.mu.Unlock()
		return rejectUnknownToken("rejectProduct", tokenID)
	}
	product := entry.product
	product.Status = models.StatusRejected
	product.Verifications = append(product.Verifications, models.VerificationRecord{
		Verifier:  product.Owner,
		Timestamp: m.timestampLocked(),
		Passed:    false,
		Details:   reason,
	})
	product.Checkpoints = append(product.Checkpoints, models.Checkpoint{
		Timestamp: m.timestampLocked(),
		Location:  m.chainLocationLocked(),
		Status:    models.StatusRejected,
		Party:     product.Owner,
		Notes:     fmt.Sprintf("Rejected: %s", reason),
	})
	m.products[tokenID] = mockProduct{chainID: m.chainID, product: product}
	chain := m.chainID
	m.mu.Unlock()

	m.notify(chain, "rejectProduct")
	return nil
}

func (m *MockLedger) SubscribeNotifications(_ context.Context, chainID string, handler func(Notification)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[chainID] == nil {
		m.subs[chainID] = make(map[int]func(Notification))
	}
	id := m.nextSub
	m.nextSub++
	m.subs[chainID][id] = handler

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if handlers, ok := m.subs[chainID]; ok {
			delete(handlers, id)
		}
	}
	return cancel, nil
}

func (m *MockLedger) notify(chainID, reason string) {
	m.mu.Lock()
	handlers := make([]func(Notification), 0, len(m.subs[chainID]))
	for _, h := range m.subs[chainID] {
		handlers = append(handlers, h)
	}
	received := m.now()
	m.mu.Unlock()

	event := Notification{
		ID:         uuid.NewString(),
		ChainID:    chainID,
		Payload:    []byte(reason),
		ReceivedAt: received,
	}
	for _, h := range handlers {
		go h(event)
	}
}

func (m *MockLedger) mintTokenIDLocked(manufacturer, name, blobHash string) string {
	h := sha256.New()
	h.Write([]byte(m.chainID))
	h.Write([]byte(name))
	h.Write([]byte(manufacturer))
	h.Write([]byte(blobHash))
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], m.registered)
	h.Write(counter[:])
	return base58.Encode(h.Sum(nil))
}
