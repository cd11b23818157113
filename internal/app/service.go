// Package app orchestrates product lifecycle operations against a ledger
// gateway and maintains the operator's owned-product view.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"trackchain/go-client/internal/ledger"
	"trackchain/go-client/internal/platform/metrics"
	"trackchain/go-client/pkg/models"
)

// Service is the lifecycle orchestrator. All mutations normalize their
// inputs, call the gateway once, and on success refresh the owned-product
// view wholesale. Failed calls mutate nothing locally and are never retried.
type Service struct {
	gw             ledger.Gateway
	chainID        string
	owner          string
	strictTerminal bool
	aliasLookup    AliasLookup
	logger         *slog.Logger

	refresher *refresher

	mu   sync.RWMutex
	view map[string]models.Product
}

func NewService(gw ledger.Gateway, opts Options) (*Service, error) {
	if gw == nil {
		return nil, errors.New("app: gateway is required")
	}
	if opts.ChainID == "" {
		return nil, errors.New("app: chain id is required")
	}
	if opts.Owner == "" {
		return nil, errors.New("app: owner address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		gw:             gw,
		chainID:        opts.ChainID,
		owner:          models.CanonicalOwner(opts.Owner),
		strictTerminal: opts.StrictTerminalStates,
		aliasLookup:    opts.AliasLookup,
		logger:         logger,
		view:           make(map[string]models.Product),
	}
	s.refresher = newRefresher(opts.RefreshMinInterval, func(ctx context.Context) {
		if err := s.refresh(ctx, "subscription"); err != nil {
			logger.Warn("view refresh failed", "error", err)
		}
	})
	return s, nil
}

// Owner returns the canonical operator address.
func (s *Service) Owner() string { return s.owner }

// refresh replaces the owned-product view with a fresh gateway snapshot.
// The view is swapped wholesale so a failed fetch leaves it untouched.
func (s *Service) refresh(ctx context.Context, trigger string) error {
	products, err := s.gw.OwnedProducts(ctx, s.owner)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.view = products
	size := len(products)
	s.mu.Unlock()

	metrics.RefreshesTotal.WithLabelValues(trigger).Inc()
	metrics.ViewProducts.Set(float64(size))
	s.logger.Debug("view refreshed", "trigger", trigger, "products", size)
	return nil
}

// Refresh re-fetches the owned-product view on demand.
func (s *Service) Refresh(ctx context.Context) error {
	return s.refresh(ctx, "manual")
}

// OwnedProducts refreshes the view and returns its products sorted by token
// id. The returned slice is a deep copy.
func (s *Service) OwnedProducts(ctx context.Context) ([]models.Product, error) {
	if err := s.refresh(ctx, "manual"); err != nil {
		return nil, err
	}
	return s.Products(), nil
}

// Products returns a deep copy of the current view without refetching.
func (s *Service) Products() []models.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Product, 0, len(s.view))
	for _, p := range s.view {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// FetchProduct queries the ledger directly for a single product, bypassing
// the view. Absence is not an error.
func (s *Service) FetchProduct(ctx context.Context, tokenID string) (models.Product, bool, error) {
	if tokenID == "" {
		return models.Product{}, false, validationErr("tokenId", "token id is required")
	}
	return s.gw.Product(ctx, tokenID)
}

// Product returns the viewed product for tokenID, if present.
func (s *Service) Product(tokenID string) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.view[tokenID]
	if !ok {
		return models.Product{}, false
	}
	return p.Clone(), true
}

// Register publishes the product document as a data blob and then registers
// the product referencing it. If the publish fails, registration is not
// attempted. If registration fails after a successful publish, the blob hash
// is reported through a PartialSequenceFailure; no compensation is run.
func (s *Service) Register(ctx context.Context, name string, document []byte) (RegisterReceipt, error) {
	if name == "" {
		return RegisterReceipt{}, validationErr("name", "product name is required")
	}
	if len(document) == 0 {
		return RegisterReceipt{}, validationErr("document", "product document is required")
	}

	blobHash, err := s.gw.PublishDataBlob(ctx, s.chainID, document)
	if err != nil {
		metrics.ObserveMutation("register", err)
		return RegisterReceipt{}, &PublishError{Err: err}
	}

	tokenID, err := s.gw.RegisterProduct(ctx, s.owner, name, blobHash)
	metrics.ObserveMutation("register", err)
	if err != nil {
		s.logger.Error("registration failed after blob publish",
			"blobHash", blobHash, "error", err)
		return RegisterReceipt{}, &PartialSequenceFailure{BlobHash: blobHash, Err: err}
	}

	s.logger.Info("product registered", "tokenId", tokenID, "name", name)
	s.refreshAfterMutation(ctx)
	return RegisterReceipt{TokenID: tokenID, BlobHash: blobHash}, nil
}

// TransferCustody hands the product to the target account. The target owner
// is canonicalized before the call; cross-chain targets make the product
// leave the local view on the next refresh.
func (s *Service) TransferCustody(ctx context.Context, tokenID string, target models.Account) error {
	if tokenID == "" {
		return validationErr("tokenId", "token id is required")
	}
	if target.ChainID == "" {
		return validationErr("target.chainId", "target chain id is required")
	}
	if target.Owner == "" {
		return validationErr("target.owner", "target owner is required")
	}

	err := s.gw.TransferCustody(ctx, s.owner, tokenID, target.Canonical())
	metrics.ObserveMutation("transfer", err)
	if err != nil {
		return err
	}
	s.logger.Info("custody transferred",
		"tokenId", tokenID, "targetChain", target.ChainID, "targetOwner", models.CanonicalOwner(target.Owner))
	s.refreshAfterMutation(ctx)
	return nil
}

// AddCheckpoint appends a tracking checkpoint. The product status is not
// changed; the status token only annotates the checkpoint itself.
func (s *Service) AddCheckpoint(ctx context.Context, tokenID, location, statusToken, notes string) error {
	if tokenID == "" {
		return validationErr("tokenId", "token id is required")
	}
	if location == "" {
		return validationErr("location", "location is required")
	}
	status, err := models.ParseStatus(statusToken)
	if err != nil {
		return validationErr("status", err.Error())
	}

	err = s.gw.AddCheckpoint(ctx, tokenID, location, status, notes)
	metrics.ObserveMutation("checkpoint", err)
	if err != nil {
		return err
	}
	s.logger.Info("checkpoint added", "tokenId", tokenID, "location", location, "status", status)
	s.refreshAfterMutation(ctx)
	return nil
}

// UpdateStatus moves the product to the given lifecycle status, recording
// where the change happened.
func (s *Service) UpdateStatus(ctx context.Context, tokenID, statusToken, location, notes string) error {
	if tokenID == "" {
		return validationErr("tokenId", "token id is required")
	}
	if location == "" {
		return validationErr("location", "location is required")
	}
	status, err := models.ParseStatus(statusToken)
	if err != nil {
		return validationErr("status", err.Error())
	}
	if err := s.guardTerminal(ctx, tokenID); err != nil {
		return err
	}

	err = s.gw.UpdateStatus(ctx, tokenID, status, location, notes)
	metrics.ObserveMutation("status", err)
	if err != nil {
		return err
	}
	s.logger.Info("status updated", "tokenId", tokenID, "status", status)
	s.refreshAfterMutation(ctx)
	return nil
}

// Verify records a verification outcome for the product.
func (s *Service) Verify(ctx context.Context, tokenID string, passed bool, details string) error {
	if tokenID == "" {
		return validationErr("tokenId", "token id is required")
	}
	if details == "" {
		return validationErr("details", "verification details are required")
	}
	if err := s.guardTerminal(ctx, tokenID); err != nil {
		return err
	}

	err := s.gw.VerifyProduct(ctx, tokenID, passed, details)
	metrics.ObserveMutation("verify", err)
	if err != nil {
		return err
	}
	s.logger.Info("product verified", "tokenId", tokenID, "passed", passed)
	s.refreshAfterMutation(ctx)
	return nil
}

// Reject marks the product rejected with the given reason.
func (s *Service) Reject(ctx context.Context, tokenID, reason string) error {
	if tokenID == "" {
		return validationErr("tokenId", "token id is required")
	}
	if reason == "" {
		return validationErr("reason", "rejection reason is required")
	}
	if err := s.guardTerminal(ctx, tokenID); err != nil {
		return err
	}

	err := s.gw.RejectProduct(ctx, tokenID, reason)
	metrics.ObserveMutation("reject", err)
	if err != nil {
		return err
	}
	s.logger.Info("product rejected", "tokenId", tokenID, "reason", reason)
	s.refreshAfterMutation(ctx)
	return nil
}

// History returns the checkpoint trail for a product, oldest first.
func (s *Service) History(ctx context.Context, tokenID string) ([]models.Checkpoint, error) {
	if tokenID == "" {
		return nil, validationErr("tokenId", "token id is required")
	}
	return s.gw.ProductHistory(ctx, tokenID)
}

// Verifications returns the verification records for a product.
func (s *Service) Verifications(ctx context.Context, tokenID string) ([]models.VerificationRecord, error) {
	if tokenID == "" {
		return nil, validationErr("tokenId", "token id is required")
	}
	return s.gw.VerificationRecords(ctx, tokenID)
}

// DisplayName resolves an address through the alias registry, falling back
// to the canonical address itself.
func (s *Service) DisplayName(address string) string {
	addr := models.CanonicalOwner(address)
	if s.aliasLookup != nil {
		if name, ok := s.aliasLookup(addr); ok {
			return name
		}
	}
	return addr
}

// StartLiveRefresh subscribes to chain notifications and refreshes the view
// whenever the chain reports activity. Bursts of notifications are coalesced
// so at least one refresh always follows the last event. The returned stop
// function cancels the subscription and waits for the refresh loop to exit.
func (s *Service) StartLiveRefresh(ctx context.Context) (func(), error) {
	runCtx, cancel := context.WithCancel(ctx)
	s.refresher.start(runCtx)

	cancelSub, err := s.gw.SubscribeNotifications(runCtx, s.chainID, func(n ledger.Notification) {
		metrics.NotificationsTotal.Inc()
		s.logger.Debug("chain notification", "id", n.ID, "chainId", n.ChainID)
		s.refresher.trigger()
	})
	if err != nil {
		cancel()
		s.refresher.wait()
		return nil, err
	}

	s.logger.Info("live refresh started", "chainId", s.chainID)
	return func() {
		cancelSub()
		cancel()
		s.refresher.wait()
	}, nil
}

// guardTerminal rejects verify/reject/updateStatus on products already in a
// terminal state when strict mode is on. It consults the local view first and falls back to
// a direct product query; lookup failures do not block the mutation since
// the chain remains the authority.
func (s *Service) guardTerminal(ctx context.Context, tokenID string) error {
	if !s.strictTerminal {
		return nil
	}
	s.mu.RLock()
	p, ok := s.view[tokenID]
	s.mu.RUnlock()
	if !ok {
		fetched, found, err := s.gw.Product(ctx, tokenID)
		if err != nil || !found {
			return nil
		}
		p = fetched
	}
	if p.Status.Terminal() {
		return validationErr("status", "product is in terminal state "+string(p.Status))
	}
	return nil
}

func (s *Service) refreshAfterMutation(ctx context.Context) {
	if err := s.refresh(ctx, "mutation"); err != nil {
		s.logger.Warn("post-mutation refresh failed", "error", err)
	}
}
