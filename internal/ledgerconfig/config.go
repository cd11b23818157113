// Package ledgerconfig loads client configuration from YAML with environment
// overrides. Resolution order is defaults, then file, then TRACK_* env vars.
package ledgerconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trackchain/go-client/internal/ledger"
)

// Config is the fully resolved client configuration.
type Config struct {
	Ledger ledger.Config
	Client ClientConfig
}

// ClientConfig covers everything above the gateway transport.
type ClientConfig struct {
	Owner                string
	MnemonicFile         string
	AliasFile            string
	MetricsAddr          string
	StrictTerminalStates bool
	RefreshMinInterval   time.Duration
}

type FileConfig struct {
	Ledger LedgerSection `yaml:"ledger"`
	Client ClientSection `yaml:"client"`
}

type LedgerSection struct {
	Transport         string        `yaml:"transport"`
	AppURL            string        `yaml:"appUrl"`
	NodeURL           string        `yaml:"nodeUrl"`
	SubscribeURL      string        `yaml:"subscribeUrl"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	ReconnectMax      time.Duration `yaml:"reconnectMax"`
	ChainID           string        `yaml:"chainId"`
}

type ClientSection struct {
	Owner                string        `yaml:"owner"`
	MnemonicFile         string        `yaml:"mnemonicFile"`
	AliasFile            string        `yaml:"aliasFile"`
	MetricsAddr          string        `yaml:"metricsAddr"`
	StrictTerminalStates *bool         `yaml:"strictTerminalStates"`
	RefreshMinInterval   time.Duration `yaml:"refreshMinInterval"`
}

func DefaultConfig() Config {
	return Config{
		Ledger: ledger.DefaultConfig(),
		Client: ClientConfig{
			AliasFile:          defaultAliasPath(),
			RefreshMinInterval: 500 * time.Millisecond,
		},
	}
}

func defaultAliasPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "aliases.json"
	}
	return home + "/.trackchain/aliases.json"
}

// LoadFromPath resolves the configuration. A missing or unreadable file is
// not an error; defaults and env overrides still apply.
func LoadFromPath(configPath string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/trackchain.yaml",
			"trackchain.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src FileConfig) {
	if src.Ledger.Transport != "" {
		dst.Ledger.Transport = src.Ledger.Transport
	}
	if src.Ledger.AppURL != "" {
		dst.Ledger.AppURL = src.Ledger.AppURL
	}
	if src.Ledger.NodeURL != "" {
		dst.Ledger.NodeURL = src.Ledger.NodeURL
	}
	if src.Ledger.SubscribeURL != "" {
		dst.Ledger.SubscribeURL = src.Ledger.SubscribeURL
	}
	if src.Ledger.RequestTimeout != 0 {
		dst.Ledger.RequestTimeout = src.Ledger.RequestTimeout
	}
	if src.Ledger.ReconnectInterval != 0 {
		dst.Ledger.ReconnectInterval = src.Ledger.ReconnectInterval
	}
	if src.Ledger.ReconnectMax != 0 {
		dst.Ledger.ReconnectMax = src.Ledger.ReconnectMax
	}
	if src.Ledger.ChainID != "" {
		dst.Ledger.ChainID = src.Ledger.ChainID
	}

	if src.Client.Owner != "" {
		dst.Client.Owner = src.Client.Owner
	}
	if src.Client.MnemonicFile != "" {
		dst.Client.MnemonicFile = src.Client.MnemonicFile
	}
	if src.Client.AliasFile != "" {
		dst.Client.AliasFile = src.Client.AliasFile
	}
	if src.Client.MetricsAddr != "" {
		dst.Client.MetricsAddr = src.Client.MetricsAddr
	}
	if src.Client.StrictTerminalStates != nil {
		dst.Client.StrictTerminalStates = *src.Client.StrictTerminalStates
	}
	if src.Client.RefreshMinInterval != 0 {
		dst.Client.RefreshMinInterval = src.Client.RefreshMinInterval
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TRACK_LEDGER_TRANSPORT")); v != "" {
		cfg.Ledger.Transport = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACK_APP_URL")); v != "" {
		cfg.Ledger.AppURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACK_NODE_URL")); v != "" {
		cfg.Ledger.NodeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACK_SUBSCRIBE_URL")); v != "" {
		cfg.Ledger.SubscribeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACK_CHAIN_ID")); v != "" {
		cfg.Ledger.ChainID = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACK_OWNER")); v != "" {
		cfg.Client.Owner = v
	}
	if v := strings.TrimSpace(os.Getenv("TRACK_METRICS_ADDR")); v != "" {
		cfg.Client.MetricsAddr = v
	}
	if raw := strings.TrimSpace(os.Getenv("TRACK_STRICT_TERMINAL")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Client.StrictTerminalStates = v
		}
	}
}
