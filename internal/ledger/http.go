package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"trackchain/go-client/pkg/models"
)

const (
	queryOwnedProducts = `query OwnedProducts($owner: AccountOwner!) {
  ownedProducts(owner: $owner)
}`
	queryProduct = `query Product($tokenId: String!) {
  product(tokenId: $tokenId) { tokenId owner name manufacturer status checkpoints { timestamp location status party notes } verifications { verifier timestamp passed details } }
}`
	queryProductHistory = `query ProductHistory($tokenId: String!) {
  productHistory(tokenId: $tokenId) { timestamp location status party notes }
}`
	queryVerificationRecords = `query VerificationRecords($tokenId: String!) {
  verificationRecords(tokenId: $tokenId) { verifier timestamp passed details }
}`
	mutationPublishDataBlob = `mutation PublishDataBlob($chainId: ChainId!, $bytes: [Int!]!) {
  publishDataBlob(chainId: $chainId, bytes: $bytes)
}`
	mutationRegisterProduct = `mutation RegisterProduct($manufacturer: AccountOwner!, $name: String!, $blobHash: DataBlobHash!) {
  registerProduct(manufacturer: $manufacturer, name: $name, blobHash: $blobHash)
}`
	mutationTransferCustody = `mutation TransferCustody($sourceOwner: AccountOwner!, $tokenId: String!, $targetAccount: FungibleAccount!) {
  transferCustody(sourceOwner: $sourceOwner, tokenId: $tokenId, targetAccount: $targetAccount)
}`
	mutationAddCheckpoint = `mutation AddCheckpoint($tokenId: String!, $location: String!, $status: ProductStatus!, $notes: String) {
  addCheckpoint(tokenId: $tokenId, location: $location, status: $status, notes: $notes)
}`
	mutationUpdateStatus = `mutation UpdateStatus($tokenId: String!, $newStatus: ProductStatus!, $location: String!, $notes: String) {
  updateStatus(tokenId: $tokenId, newStatus: $newStatus, location: $location, notes: $notes)
}`
	mutationVerifyProduct = `mutation VerifyProduct($tokenId: String!, $passed: Boolean!, $details: String!) {
  verifyProduct(tokenId: $tokenId, passed: $passed, details: $details)
}`
	mutationRejectProduct = `mutation RejectProduct($tokenId: String!, $reason: String!) {
  rejectProduct(tokenId: $tokenId, reason: $reason)
}`
)

// httpGateway speaks GraphQL over HTTP to two endpoints: the application
// service (queries and product mutations) and the node service (blob
// publishing), plus a websocket endpoint for the notification stream.
type httpGateway struct {
	cfg    Config
	client *http.Client
}

func newHTTPGateway(cfg Config) (*httpGateway, error) {
	if strings.TrimSpace(cfg.AppURL) == "" {
		return nil, errors.New("ledger: appUrl is required for the http transport")
	}
	if strings.TrimSpace(cfg.NodeURL) == "" {
		cfg.NodeURL = cfg.AppURL
	}
	return &httpGateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
			},
		},
	}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

func (g *httpGateway) execute(ctx context.Context, endpoint, op, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := g.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	if len(parsed.Errors) > 0 {
		messages := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			messages = append(messages, e.Message)
		}
		return &RemoteRejection{Op: op, Message: strings.Join(messages, "; ")}
	}
	if out == nil || len(parsed.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(parsed.Data, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("invalid response data: %w", err)}
	}
	return nil
}

// wireProduct tolerates the service encoding of payload bytes (an array of
// integers, not base64).
type wireProduct struct {
	TokenID       string                      `json:"tokenId"`
	Owner         string                      `json:"owner"`
	Name          string                      `json:"name"`
	Manufacturer  string                      `json:"manufacturer"`
	Status        string                      `json:"status"`
	Payload       []int                       `json:"payload"`
	Checkpoints   []models.Checkpoint         `json:"checkpoints"`
	Verifications []models.VerificationRecord `json:"verifications"`
}

func (w wireProduct) toModel(tokenID string) (models.Product, error) {
	status, err := models.ParseStatus(w.Status)
	if err != nil {
		return models.Product{}, err
	}
	if w.TokenID != "" {
		tokenID = w.TokenID
	}
	payload := make([]byte, len(w.Payload))
	for i, b := range w.Payload {
		payload[i] = byte(b)
	}
	checkpoints := w.Checkpoints
	if checkpoints == nil {
		checkpoints = []models.Checkpoint{}
	}
	verifications := w.Verifications
	if verifications == nil {
		verifications = []models.VerificationRecord{}
	}
	return models.Product{
		TokenID:       tokenID,
		Owner:         w.Owner,
		Name:          w.Name,
		Manufacturer:  w.Manufacturer,
		Status:        status,
		Payload:       payload,
		Checkpoints:   checkpoints,
		Verifications: verifications,
	}, nil
}

func (g *httpGateway) OwnedProducts(ctx context.Context, owner string) (map[string]models.Product, error) {
	var data struct {
		OwnedProducts map[string]wireProduct `json:"ownedProducts"`
	}
	vars := map[string]any{"owner": models.CanonicalOwner(owner)}
	if err := g.execute(ctx, g.cfg.AppURL, "ownedProducts", queryOwnedProducts, vars, &data); err != nil {
		return nil, err
	}
	out := make(map[string]models.Product, len(data.OwnedProducts))
	for tokenID, wp := range data.OwnedProducts {
		product, err := wp.toModel(tokenID)
		if err != nil {
			return nil, &TransportError{Op: "ownedProducts", Err: err}
		}
		out[product.TokenID] = product
	}
	return out, nil
}

func (g *httpGateway) Product(ctx context.Context, tokenID string) (models.Product, bool, error) {
	var data struct {
		Product *wireProduct `json:"product"`
	}
	vars := map[string]any{"tokenId": tokenID}
	if err := g.execute(ctx, g.cfg.AppURL, "product", queryProduct, vars, &data); err != nil {
		return models.Product{}, false, err
	}
	if data.Product == nil {
		return models.Product{}, false, nil
	}
	product, err := data.Product.toModel(tokenID)
	if err != nil {
		return models.Product{}, false, &TransportError{Op: "product", Err: err}
	}
	return product, true, nil
}

func (g *httpGateway) ProductHistory(ctx context.Context, tokenID string) ([]models.Checkpoint, error) {
	var data struct {
		ProductHistory []models.Checkpoint `json:"productHistory"`
	}
	vars := map[string]any{"tokenId": tokenID}
	if err := g.execute(ctx, g.cfg.AppURL, "productHistory", queryProductHistory, vars, &data); err != nil {
		return nil, err
	}
	if data.ProductHistory == nil {
		return []models.Checkpoint{}, nil
	}
	return data.ProductHistory, nil
}

func (g *httpGateway) VerificationRecords(ctx context.Context, tokenID string) ([]models.VerificationRecord, error) {
	var data struct {
		VerificationRecords []models.VerificationRecord `json:"verificationRecords"`
	}
	vars := map[string]any{"tokenId": tokenID}
	if err := g.execute(ctx, g.cfg.AppURL, "verificationRecords", queryVerificationRecords, vars, &data); err != nil {
		return nil, err
	}
	if data.VerificationRecords == nil {
		return []models.VerificationRecord{}, nil
	}
	return data.VerificationRecords, nil
}

func (g *httpGateway) PublishDataBlob(ctx context.Context, chainID string, data []byte) (string, error) {
	if len(data) > MaxBlobBytes {
		return "", &RemoteRejection{Op: "publishDataBlob", Message: "blob exceeds size quota"}
	}
	// The node service schema takes the payload as an integer array.
	ints := make([]int, len(data))
	for i, b := range data {
		ints[i] = int(b)
	}
	var out struct {
		PublishDataBlob string `json:"publishDataBlob"`
	}
	vars := map[string]any{"chainId": chainID, "bytes": ints}
	if err := g.execute(ctx, g.cfg.NodeURL, "publishDataBlob", mutationPublishDataBlob, vars, &out); err != nil {
		return "", err
	}
	if out.PublishDataBlob == "" {
		return "", &TransportError{Op: "publishDataBlob", Err: errors.New("gateway returned no blob hash")}
	}
	return out.PublishDataBlob, nil
}

func (g *httpGateway) RegisterProduct(ctx context.Context, manufacturer, name, blobHash string) (string, error) {
	var out struct {
		RegisterProduct string `json:"registerProduct"`
	}
	vars := map[string]any{
		"manufacturer": models.CanonicalOwner(manufacturer),
		"name":         name,
		"blobHash":     blobHash,
	}
	if err := g.execute(ctx, g.cfg.AppURL, "registerProduct", mutationRegisterProduct, vars, &out); err != nil {
		return "", err
	}
	return out.RegisterProduct, nil
}

func (g *httpGateway) TransferCustody(ctx context.Context, sourceOwner, tokenID string, target models.Account) error {
	target = target.Canonical()
	vars := map[string]any{
		"sourceOwner": models.CanonicalOwner(sourceOwner),
		"tokenId":     tokenID,
		"targetAccount": map[string]any{
			"chainId": target.ChainID,
			"owner":   target.Owner,
		},
	}
	return g.execute(ctx, g.cfg.AppURL, "transferCustody", mutationTransferCustody, vars, nil)
}

func (g *httpGateway) AddCheckpoint(ctx context.Context, tokenID, location string, status models.Status, notes string) error {
	vars := map[string]any{
		"tokenId":  tokenID,
		"location": location,
		"status":   string(status),
	}
	if notes != "" {
		vars["notes"] = notes
	}
	return g.execute(ctx, g.cfg.AppURL, "addCheckpoint", mutationAddCheckpoint, vars, nil)
}

func (g *httpGateway) UpdateStatus(ctx context.Context, tokenID string, newStatus models.Status, location, notes string) error {
	vars := map[string]any{
		"tokenId":   tokenID,
		"newStatus": string(newStatus),
		"location":  location,
	}
	if notes != "" {
		vars["notes"] = notes
	}
	return g.execute(ctx, g.cfg.AppURL, "updateStatus", mutationUpdateStatus, vars, nil)
}

func (g *httpGateway) VerifyProduct(ctx context.Context, tokenID string, passed bool, details string) error {
	vars := map[string]any{
		"tokenId": tokenID,
		"passed":  passed,
		"details": details,
	}
	return g.execute(ctx, g.cfg.AppURL, "verifyProduct", mutationVerifyProduct, vars, nil)
}

func (g *httpGateway) RejectProduct(ctx context.Context, tokenID, reason string) error {
	vars := map[string]any{
		"tokenId": tokenID,
		"reason":  reason,
	}
	return g.execute(ctx, g.cfg.AppURL, "rejectProduct", mutationRejectProduct, vars, nil)
}

var _ Gateway = (*httpGateway)(nil)

// retryDelay grows the reconnect delay toward the configured ceiling.
func (g *httpGateway) retryDelay(attempt int) time.Duration {
	delay := g.cfg.ReconnectInterval
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= g.cfg.ReconnectMax {
			return g.cfg.ReconnectMax
		}
	}
	return delay
}
