package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trackchain/go-client/pkg/models"
)

const (
	TransportMock = "mock"
	TransportHTTP = "http"
)

// MaxBlobBytes bounds a single published blob. The gateway enforces its own
// quota; this is the client-side ceiling before a request is even attempted.
const MaxBlobBytes = 5 << 20 // 5 MiB

// Notification is one opaque event from the per-chain push stream. Payload
// content is unused beyond "something changed" and may be empty or malformed
// without affecting the subscriber.
type Notification struct {
	ID         string
	ChainID    string
	Payload    []byte
	ReceivedAt time.Time
}

// Gateway is the remote ledger contract consumed by the orchestration core.
// Implementations: the GraphQL HTTP client and the in-process mock ledger.
type Gateway interface {
	OwnedProducts(ctx context.Context, owner string) (map[string]models.Product, error)
	Product(ctx context.Context, tokenID string) (models.Product, bool, error)
	ProductHistory(ctx context.Context, tokenID string) ([]models.Checkpoint, error)
	VerificationRecords(ctx context.Context, tokenID string) ([]models.VerificationRecord, error)

	PublishDataBlob(ctx context.Context, chainID string, data []byte) (string, error)
	RegisterProduct(ctx context.Context, manufacturer, name, blobHash string) (string, error)
	TransferCustody(ctx context.Context, sourceOwner, tokenID string, target models.Account) error
	AddCheckpoint(ctx context.Context, tokenID, location string, status models.Status, notes string) error
	UpdateStatus(ctx context.Context, tokenID string, newStatus models.Status, location, notes string) error
	VerifyProduct(ctx context.Context, tokenID string, passed bool, details string) error
	RejectProduct(ctx context.Context, tokenID, reason string) error

	// SubscribeNotifications starts a standing subscription for chainID and
	// invokes handler for every inbound event until the returned cancel
	// function is called or ctx ends.
	SubscribeNotifications(ctx context.Context, chainID string, handler func(Notification)) (func(), error)
}

// Config selects and tunes a gateway transport.
type Config struct {
	Transport         string        `yaml:"transport"`
	AppURL            string        `yaml:"appUrl"`
	NodeURL           string        `yaml:"nodeUrl"`
	SubscribeURL      string        `yaml:"subscribeUrl"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	ReconnectMax      time.Duration `yaml:"reconnectMax"`

	// ChainID is the mock transport's home chain. The HTTP transport derives
	// chain identity from the endpoints it talks to.
	ChainID string `yaml:"chainId"`
}

func DefaultConfig() Config {
	return Config{
		Transport:         TransportMock,
		RequestTimeout:    15 * time.Second,
		ReconnectInterval: 1 * time.Second,
		ReconnectMax:      30 * time.Second,
		ChainID:           "local",
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Transport) == "" {
		cfg.Transport = def.Transport
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectMax < cfg.ReconnectInterval {
		cfg.ReconnectMax = cfg.ReconnectInterval
	}
	if strings.TrimSpace(cfg.ChainID) == "" {
		cfg.ChainID = def.ChainID
	}
	return cfg
}

// New builds a gateway for the configured transport.
func New(cfg Config) (Gateway, error) {
	cfg = normalizeConfig(cfg)
	switch cfg.Transport {
	case TransportMock:
		return NewMockLedger(cfg.ChainID), nil
	case TransportHTTP:
		return newHTTPGateway(cfg)
	default:
		return nil, fmt.Errorf("unknown ledger transport %q", cfg.Transport)
	}
}
