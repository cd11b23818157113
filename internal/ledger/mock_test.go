package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackchain/go-client/pkg/models"
)

func registerTestProduct(t *testing.T, m *MockLedger, owner, name string) string {
	t.Helper()
	ctx := context.Background()
	hash, err := m.PublishDataBlob(ctx, "chain-a", []byte("spec sheet for "+name))
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	tokenID, err := m.RegisterProduct(ctx, owner, name, hash)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return tokenID
}

func TestMockRegisterSeedsInitialCheckpoint(t *testing.T) {
	m := NewMockLedger("chain-a")
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")

	product, ok, err := m.Product(context.Background(), tokenID)
	if err != nil || !ok {
		t.Fatalf("product lookup failed: ok=%v err=%v", ok, err)
	}
	if product.Status != models.StatusRegistered {
		t.Fatalf("status = %q, want Registered", product.Status)
	}
	if product.Owner != "0xaa11" || product.Manufacturer != "0xaa11" {
		t.Fatalf("owner fields must be canonical: owner=%q manufacturer=%q", product.Owner, product.Manufacturer)
	}
	if len(product.Checkpoints) != 1 || product.Checkpoints[0].Notes != "Product registered" {
		t.Fatalf("registration must seed exactly one checkpoint, got %+v", product.Checkpoints)
	}
	if len(product.Verifications) != 0 {
		t.Fatalf("new product must have no verifications")
	}
}

func TestMockRegisterRequiresPublishedBlob(t *testing.T) {
	m := NewMockLedger("chain-a")
	_, err := m.RegisterProduct(context.Background(), "aa11", "Widget-1", "no-such-hash")
	var rejection *RemoteRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("want RemoteRejection, got %v", err)
	}
}

func TestMockPublishIsContentAddressed(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()
	h1, err := m.PublishDataBlob(ctx, "chain-a", []byte("same bytes"))
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	h2, err := m.PublishDataBlob(ctx, "chain-a", []byte("same bytes"))
	if err != nil {
		t.Fatalf("republish failed: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("identical bytes must map to one hash: %q vs %q", h1, h2)
	}
	if _, err := m.PublishDataBlob(ctx, "chain-a", nil); err == nil {
		t.Fatalf("empty blob must be rejected")
	}
	if _, err := m.PublishDataBlob(ctx, "chain-a", make([]byte, MaxBlobBytes+1)); err == nil {
		t.Fatalf("oversized blob must be rejected")
	}
}

func TestMockOwnedProductsFiltersByOwner(t *testing.T) {
	m := NewMockLedger("chain-a")
	tok1 := registerTestProduct(t, m, "aa11", "Widget-1")
	registerTestProduct(t, m, "bb22", "Widget-2")

	owned, err := m.OwnedProducts(context.Background(), "aa11")
	if err != nil {
		t.Fatalf("ownedProducts failed: %v", err)
	}
	if len(owned) != 1 {
		t.Fatalf("owner aa11 must own exactly one product, got %d", len(owned))
	}
	if _, ok := owned[tok1]; !ok {
		t.Fatalf("owned view missing token %q", tok1)
	}

	// Bare and prefixed forms resolve identically.
	prefixed, err := m.OwnedProducts(context.Background(), "0xaa11")
	if err != nil || len(prefixed) != 1 {
		t.Fatalf("prefixed lookup mismatch: len=%d err=%v", len(prefixed), err)
	}
}

func TestMockUpdateStatusAppendsCheckpoint(t *testing.T) {
	m := NewMockLedger("chain-a")
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")
	ctx := context.Background()

	before, _ := m.ProductHistory(ctx, tokenID)
	if err := m.UpdateStatus(ctx, tokenID, models.StatusInTransit, "Dock-3", ""); err != nil {
		t.Fatalf("updateStatus failed: %v", err)
	}
	after, _ := m.ProductHistory(ctx, tokenID)
	if len(after) != len(before)+1 {
		t.Fatalf("history length: got %d, want %d", len(after), len(before)+1)
	}
	last := after[len(after)-1]
	if last.Location != "Dock-3" || last.Status != models.StatusInTransit {
		t.Fatalf("unexpected checkpoint: %+v", last)
	}
	product, _, _ := m.Product(ctx, tokenID)
	if product.Status != models.StatusInTransit {
		t.Fatalf("status = %q, want InTransit", product.Status)
	}
}

func TestMockAddCheckpointDoesNotMoveStatus(t *testing.T) {
	m := NewMockLedger("chain-a")
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")
	ctx := context.Background()

	if err := m.AddCheckpoint(ctx, tokenID, "Warehouse A", models.StatusInTransit, "scanned"); err != nil {
		t.Fatalf("addCheckpoint failed: %v", err)
	}
	product, _, _ := m.Product(ctx, tokenID)
	if product.Status != models.StatusRegistered {
		t.Fatalf("addCheckpoint must not change product status, got %q", product.Status)
	}
	if len(product.Checkpoints) != 2 {
		t.Fatalf("checkpoint not appended, history=%d", len(product.Checkpoints))
	}
}

func TestMockVerifyAndReject(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()

	verified := registerTestProduct(t, m, "aa11", "Widget-1")
	if err := m.VerifyProduct(ctx, verified, true, "OK"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	product, _, _ := m.Product(ctx, verified)
	if product.Status != models.StatusVerified {
		t.Fatalf("status = %q, want Verified", product.Status)
	}
	records, _ := m.VerificationRecords(ctx, verified)
	if len(records) != 1 || !records[0].Passed || records[0].Details != "OK" {
		t.Fatalf("unexpected verification records: %+v", records)
	}

	rejected := registerTestProduct(t, m, "aa11", "Widget-2")
	if err := m.RejectProduct(ctx, rejected, "Damaged"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	product, _, _ = m.Product(ctx, rejected)
	if product.Status != models.StatusRejected {
		t.Fatalf("status = %q, want Rejected", product.Status)
	}
	records, _ = m.VerificationRecords(ctx, rejected)
	if len(records) != 1 || records[0].Passed || records[0].Details != "Damaged" {
		t.Fatalf("unexpected rejection records: %+v", records)
	}
}

func TestMockVerifyFailedMarksRejected(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")
	if err := m.VerifyProduct(ctx, tokenID, false, "seal broken"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	product, _, _ := m.Product(ctx, tokenID)
	if product.Status != models.StatusRejected {
		t.Fatalf("failed verification must reject, got %q", product.Status)
	}
}

func TestMockTransferCustodySameChain(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")

	err := m.TransferCustody(ctx, "aa11", tokenID, models.Account{ChainID: "chain-a", Owner: "bb22"})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	product, _, _ := m.Product(ctx, tokenID)
	if product.Owner != "0xbb22" {
		t.Fatalf("custody must move: owner=%q", product.Owner)
	}
	if product.Status != models.StatusDelivered {
		t.Fatalf("same-chain transfer ends Delivered, got %q", product.Status)
	}
	// InTransit then Delivered appended after the registration checkpoint.
	if len(product.Checkpoints) != 3 {
		t.Fatalf("want 3 checkpoints, got %d", len(product.Checkpoints))
	}

	fromOld, _ := m.OwnedProducts(ctx, "aa11")
	if len(fromOld) != 0 {
		t.Fatalf("previous owner must not retain the product")
	}
}

func TestMockTransferCustodyCrossChainLeavesView(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")

	err := m.TransferCustody(ctx, "0xaa11", tokenID, models.Account{ChainID: "chain-b", Owner: "cc33"})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if _, ok, _ := m.Product(ctx, tokenID); ok {
		t.Fatalf("cross-chain transfer must remove the product from this chain's view")
	}
}

func TestMockTransferCustodyRequiresHolder(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")

	err := m.TransferCustody(ctx, "bb22", tokenID, models.Account{ChainID: "chain-a", Owner: "cc33"})
	var rejection *RemoteRejection
	if !errors.As(err, &rejection) {
		t.Fatalf("non-holder transfer must be rejected, got %v", err)
	}
}

func TestMockUnknownTokenRejections(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()
	ops := []func() error{
		func() error { _, err := m.ProductHistory(ctx, "missing"); return err },
		func() error { _, err := m.VerificationRecords(ctx, "missing"); return err },
		func() error { return m.AddCheckpoint(ctx, "missing", "x", models.StatusInTransit, "") },
		func() error { return m.UpdateStatus(ctx, "missing", models.StatusInTransit, "x", "") },
		func() error { return m.VerifyProduct(ctx, "missing", true, "x") },
		func() error { return m.RejectProduct(ctx, "missing", "x") },
	}
	for i, op := range ops {
		if err := op(); !errors.Is(err, ErrUnknownToken) {
			t.Fatalf("op %d: want ErrUnknownToken, got %v", i, err)
		}
	}
}

func TestMockNotificationsFirePerMutation(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()

	events := make(chan Notification, 16)
	cancel, err := m.SubscribeNotifications(ctx, "chain-a", func(n Notification) { events <- n })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")
	if err := m.UpdateStatus(ctx, tokenID, models.StatusInTransit, "Dock-3", ""); err != nil {
		t.Fatalf("updateStatus failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case n := <-events:
			if n.ChainID != "chain-a" || n.ID == "" {
				t.Fatalf("malformed notification: %+v", n)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing notification %d", i)
		}
	}

	cancel()
	if err := m.UpdateStatus(ctx, tokenID, models.StatusDelivered, "Store", ""); err != nil {
		t.Fatalf("updateStatus failed: %v", err)
	}
	select {
	case n := <-events:
		t.Fatalf("cancelled subscription must not receive events, got %+v", n)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMockHistoryIsMonotonic(t *testing.T) {
	m := NewMockLedger("chain-a")
	ctx := context.Background()
	tokenID := registerTestProduct(t, m, "aa11", "Widget-1")

	prev := 0
	steps := []func() error{
		func() error { return m.AddCheckpoint(ctx, tokenID, "Warehouse A", models.StatusRegistered, "") },
		func() error { return m.UpdateStatus(ctx, tokenID, models.StatusInTransit, "Dock-3", "") },
		func() error { return m.UpdateStatus(ctx, tokenID, models.StatusDelivered, "Store", "") },
		func() error { return m.VerifyProduct(ctx, tokenID, true, "OK") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		history, err := m.ProductHistory(ctx, tokenID)
		if err != nil {
			t.Fatalf("history fetch %d failed: %v", i, err)
		}
		if len(history) <= prev {
			t.Fatalf("history must grow monotonically: step %d len=%d prev=%d", i, len(history), prev)
		}
		prev = len(history)
	}
}
