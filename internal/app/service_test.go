package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"trackchain/go-client/internal/ledger"
	"trackchain/go-client/pkg/models"
)

type fakeGateway struct {
	mu sync.Mutex

	publishCalls  int
	registerCalls int
	ownedCalls    int
	statusCalls   int
	transferCalls int

	publishErr  error
	registerErr error
	statusErr   error

	blobHash string
	tokenID  string
	owned    map[string]models.Product

	lastManufacturer string
	lastBlobHash     string
	lastSource       string
	lastTarget       models.Account
}

func (f *fakeGateway) OwnedProducts(ctx context.Context, owner string) (map[string]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownedCalls++
	out := make(map[string]models.Product, len(f.owned))
	for k, v := range f.owned {
		out[k] = v.Clone()
	}
	return out, nil
}

func (f *fakeGateway) Product(ctx context.Context, tokenID string) (models.Product, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.owned[tokenID]
	return p, ok, nil
}

func (f *fakeGateway) ProductHistory(ctx context.Context, tokenID string) ([]models.Checkpoint, error) {
	return nil, nil
}

func (f *fakeGateway) VerificationRecords(ctx context.Context, tokenID string) ([]models.VerificationRecord, error) {
	return nil, nil
}

func (f *fakeGateway) PublishDataBlob(ctx context.Context, chainID string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishCalls++
	if f.publishErr != nil {
		return "", f.publishErr
	}
	return f.blobHash, nil
}

func (f *fakeGateway) RegisterProduct(ctx context.Context, manufacturer, name, blobHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	f.lastManufacturer = manufacturer
	f.lastBlobHash = blobHash
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return f.tokenID, nil
}

func (f *fakeGateway) TransferCustody(ctx context.Context, sourceOwner, tokenID string, target models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	f.lastSource = sourceOwner
	f.lastTarget = target
	return nil
}

func (f *fakeGateway) AddCheckpoint(ctx context.Context, tokenID, location string, status models.Status, notes string) error {
	return nil
}

func (f *fakeGateway) UpdateStatus(ctx context.Context, tokenID string, status models.Status, location, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.statusErr
}

func (f *fakeGateway) VerifyProduct(ctx context.Context, tokenID string, passed bool, details string) error {
	return nil
}

func (f *fakeGateway) RejectProduct(ctx context.Context, tokenID, reason string) error {
	return nil
}

func (f *fakeGateway) SubscribeNotifications(ctx context.Context, chainID string, handler func(ledger.Notification)) (func(), error) {
	return func() {}, nil
}

func newTestService(t *testing.T, gw ledger.Gateway, opts Options) *Service {
	t.Helper()
	if opts.ChainID == "" {
		opts.ChainID = "chain-1"
	}
	if opts.Owner == "" {
		opts.Owner = "0xoperator"
	}
	opts.Logger = slog.New(slog.DiscardHandler)
	svc, err := NewService(gw, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestRegisterTwoPhase(t *testing.T) {
	gw := &fakeGateway{blobHash: "blob-1", tokenID: "tok-1"}
	svc := newTestService(t, gw, Options{})

	receipt, err := svc.Register(context.Background(), "widget", []byte("doc"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if receipt.TokenID != "tok-1" || receipt.BlobHash != "blob-1" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if gw.publishCalls != 1 || gw.registerCalls != 1 {
		t.Fatalf("publish=%d register=%d, want 1/1", gw.publishCalls, gw.registerCalls)
	}
	if gw.lastBlobHash != "blob-1" {
		t.Fatalf("register used blob %q", gw.lastBlobHash)
	}
	if gw.lastManufacturer != "0xoperator" {
		t.Fatalf("manufacturer %q, want canonical operator", gw.lastManufacturer)
	}
	if gw.ownedCalls == 0 {
		t.Fatal("view was not refreshed after registration")
	}
}

func TestRegisterPublishFailureShortCircuits(t *testing.T) {
	gw := &fakeGateway{publishErr: errors.New("node down")}
	svc := newTestService(t, gw, Options{})

	_, err := svc.Register(context.Background(), "widget", []byte("doc"))
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("got %v, want PublishError", err)
	}
	if gw.registerCalls != 0 {
		t.Fatalf("register was attempted after publish failure (%d calls)", gw.registerCalls)
	}
	if gw.ownedCalls != 0 {
		t.Fatal("view was refreshed after a failed registration")
	}
}

func TestRegisterPartialSequenceFailure(t *testing.T) {
	remoteErr := errors.New("execution rejected")
	gw := &fakeGateway{blobHash: "blob-9", registerErr: remoteErr}
	svc := newTestService(t, gw, Options{})

	_, err := svc.Register(context.Background(), "widget", []byte("doc"))
	var partial *PartialSequenceFailure
	if !errors.As(err, &partial) {
		t.Fatalf("got %v, want PartialSequenceFailure", err)
	}
	if partial.BlobHash != "blob-9" {
		t.Fatalf("blob hash %q, want blob-9", partial.BlobHash)
	}
	if !errors.Is(err, remoteErr) {
		t.Fatal("remote error not wrapped")
	}
	if gw.ownedCalls != 0 {
		t.Fatal("view was refreshed after a failed registration")
	}
}

func TestRegisterValidation(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(t, gw, Options{})

	for _, tc := range []struct {
		name string
		doc  []byte
	}{
		{"", []byte("doc")},
		{"widget", nil},
	} {
		_, err := svc.Register(context.Background(), tc.name, tc.doc)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("name=%q doc=%v: got %v, want ValidationError", tc.name, tc.doc, err)
		}
	}
	if gw.publishCalls != 0 {
		t.Fatal("gateway contacted for invalid input")
	}
}

func TestTransferCanonicalizesTarget(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(t, gw, Options{Owner: "operator"})

	err := svc.TransferCustody(context.Background(), "tok-1", models.Account{ChainID: "chain-2", Owner: "abc123"})
	if err != nil {
		t.Fatalf("TransferCustody: %v", err)
	}
	if gw.lastSource != "0xoperator" {
		t.Fatalf("source %q, want 0xoperator", gw.lastSource)
	}
	if gw.lastTarget.Owner != "0xabc123" {
		t.Fatalf("target owner %q, want 0xabc123", gw.lastTarget.Owner)
	}
}

func TestMutationFailureSkipsRefresh(t *testing.T) {
	gw := &fakeGateway{statusErr: errors.New("rejected")}
	svc := newTestService(t, gw, Options{})

	if err := svc.UpdateStatus(context.Background(), "tok-1", "DELIVERED", "Store", ""); err == nil {
		t.Fatal("expected error")
	}
	if gw.ownedCalls != 0 {
		t.Fatal("view was refreshed after a failed mutation")
	}
}

func TestStrictTerminalGuard(t *testing.T) {
	gw := &fakeGateway{owned: map[string]models.Product{
		"tok-done": {TokenID: "tok-done", Status: models.StatusRejected},
	}}
	svc := newTestService(t, gw, Options{StrictTerminalStates: true})
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	err := svc.UpdateStatus(context.Background(), "tok-done", "IN_TRANSIT", "Dock-3", "")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if gw.statusCalls != 0 {
		t.Fatal("gateway contacted despite terminal guard")
	}

	// Permissive mode forwards the same call.
	loose := newTestService(t, gw, Options{})
	if err := loose.UpdateStatus(context.Background(), "tok-done", "IN_TRANSIT", "Dock-3", ""); err != nil {
		t.Fatalf("permissive UpdateStatus: %v", err)
	}
	if gw.statusCalls != 1 {
		t.Fatalf("status calls %d, want 1", gw.statusCalls)
	}
}

func TestStatusTokensBothFormsAccepted(t *testing.T) {
	gw := &fakeGateway{}
	svc := newTestService(t, gw, Options{})
	ctx := context.Background()

	for _, token := range []string{"IN_TRANSIT", "InTransit"} {
		if err := svc.AddCheckpoint(ctx, "tok-1", "Rotterdam", token, ""); err != nil {
			t.Fatalf("AddCheckpoint(%q): %v", token, err)
		}
	}
	err := svc.AddCheckpoint(ctx, "tok-1", "Rotterdam", "SHIPPED", "")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("got %v, want ValidationError for unknown token", err)
	}
}

func TestDisplayName(t *testing.T) {
	aliases := map[string]string{"0xabc": "Acme Warehouse"}
	gw := &fakeGateway{}
	svc := newTestService(t, gw, Options{
		AliasLookup: func(addr string) (string, bool) {
			name, ok := aliases[addr]
			return name, ok
		},
	})

	if got := svc.DisplayName("abc"); got != "Acme Warehouse" {
		t.Fatalf("DisplayName(abc) = %q", got)
	}
	if got := svc.DisplayName("0xother"); got != "0xother" {
		t.Fatalf("DisplayName(0xother) = %q", got)
	}
}

func TestLifecycleAgainstMockLedger(t *testing.T) {
	mock := ledger.NewMockLedger("chain-1")
	svc := newTestService(t, mock, Options{ChainID: "chain-1", Owner: "maker"})
	ctx := context.Background()

	receipt, err := svc.Register(ctx, "widget", []byte("spec sheet"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	products := svc.Products()
	if len(products) != 1 || products[0].TokenID != receipt.TokenID {
		t.Fatalf("view after register: %+v", products)
	}
	if products[0].Status != models.StatusRegistered {
		t.Fatalf("status %q, want REGISTERED", products[0].Status)
	}

	// Same-chain transfer delivers immediately and leaves the old owner's view.
	err = svc.TransferCustody(ctx, receipt.TokenID, models.Account{ChainID: "chain-1", Owner: "retailer"})
	if err != nil {
		t.Fatalf("TransferCustody: %v", err)
	}
	if got := svc.Products(); len(got) != 0 {
		t.Fatalf("view still holds %d products after transfer", len(got))
	}

	history, err := svc.History(ctx, receipt.TokenID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length %d, want 3 (registered, transfer, delivered)", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp < history[i-1].Timestamp {
			t.Fatal("history timestamps not monotonic")
		}
	}
}

func TestFailedVerificationRejectsProduct(t *testing.T) {
	mock := ledger.NewMockLedger("chain-1")
	svc := newTestService(t, mock, Options{ChainID: "chain-1", Owner: "maker"})
	ctx := context.Background()

	receipt, err := svc.Register(ctx, "widget", []byte("doc"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Verify(ctx, receipt.TokenID, false, "seal broken"); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	p, ok := svc.Product(receipt.TokenID)
	if !ok {
		t.Fatal("product missing from view")
	}
	if p.Status != models.StatusRejected {
		t.Fatalf("status %q, want REJECTED", p.Status)
	}
	records, err := svc.Verifications(ctx, receipt.TokenID)
	if err != nil {
		t.Fatalf("Verifications: %v", err)
	}
	if len(records) != 1 || records[0].Passed {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestLiveRefreshFollowsChainActivity(t *testing.T) {
	mock := ledger.NewMockLedger("chain-1")
	svc := newTestService(t, mock, Options{ChainID: "chain-1", Owner: "watcher"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop, err := svc.StartLiveRefresh(ctx)
	if err != nil {
		t.Fatalf("StartLiveRefresh: %v", err)
	}
	defer stop()

	// Another client registers a product for the watcher's account.
	hash, err := mock.PublishDataBlob(ctx, "chain-1", []byte("doc"))
	if err != nil {
		t.Fatalf("PublishDataBlob: %v", err)
	}
	if _, err := mock.RegisterProduct(ctx, "watcher", "widget", hash); err != nil {
		t.Fatalf("RegisterProduct: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(svc.Products()) == 1
	})
}
