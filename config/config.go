// Package config loads service settings from the environment and the
// static network description file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config holds environment-driven service settings.
type Config struct {
	Port        string `envconfig:"MS_PORT" default:"3000"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	LedgerRPCURL string `envconfig:"LEDGER_RPC_URL" default:"http://localhost:8899"`
	MetastoreURL string `envconfig:"METASTORE_URL" default:"http://localhost:5001"`
	NetworkFile  string `envconfig:"NETWORK_FILE" default:"network.yaml"`

	// Master mnemonic for the signing-identity vault. All admin identities
	// are derived from it by index, so registry rows stay recoverable.
	VaultMnemonic string `envconfig:"VAULT_MNEMONIC"`

	KafkaBrokers    string `envconfig:"KAFKA_BROKERS"`
	KafkaEventTopic string `envconfig:"KAFKA_EVENT_TOPIC" default:"proposal-lifecycle"`
	KafkaCrankTopic string `envconfig:"KAFKA_CRANK_TOPIC" default:"crank-requests"`

	ConfirmTimeout    time.Duration `envconfig:"CONFIRM_TIMEOUT" default:"60s"`
	TableWaitTimeout  time.Duration `envconfig:"TABLE_WAIT_TIMEOUT" default:"90s"`
	TablePollInterval time.Duration `envconfig:"TABLE_POLL_INTERVAL" default:"3s"`
	OracleMinInterval time.Duration `envconfig:"ORACLE_MIN_INTERVAL" default:"60s"`
	ListCacheTTL      time.Duration `envconfig:"LIST_CACHE_TTL" default:"30s"`

	// Minimum native-asset reserve (in base units) the paying identity must
	// hold before a write workflow is allowed to start.
	MinFeeReserve uint64 `envconfig:"MIN_FEE_RESERVE" default:"100000000"`

	// Post-redemption balances below this fraction of total supply (in
	// basis points) make liquidity return a deliberate no-op.
	ReturnMinBps int64 `envconfig:"RETURN_MIN_BPS" default:"50"`

	// Maximum allowed oracle observation drift as basis points of the
	// starting observation.
	PriceDriftBps int64 `envconfig:"PRICE_DRIFT_BPS" default:"500"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("futarch", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &cfg, nil
}

// Network describes the ledger deployment the backend talks to: well-known
// asset mints and program addresses. It is static per deployment and ships
// as a YAML file next to the binary.
type Network struct {
	NativeAsset  string `yaml:"native_asset"`
	WrappedAsset string `yaml:"wrapped_asset"`

	Programs struct {
		Governance   string `yaml:"governance"`
		AddressTable string `yaml:"address_table"`
		Token        string `yaml:"token"`
		Oracle       string `yaml:"oracle"`
	} `yaml:"programs"`

	Venues []struct {
		Kind    string `yaml:"kind"`
		Program string `yaml:"program"`
	} `yaml:"venues"`
}

// LoadNetwork parses the network description file.
func LoadNetwork(path string) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network file %s: %w", path, err)
	}
	var net Network
	if err := yaml.Unmarshal(raw, &net); err != nil {
		return nil, fmt.Errorf("failed to parse network file %s: %w", path, err)
	}
	if net.NativeAsset == "" || net.Programs.Governance == "" {
		return nil, fmt.Errorf("network file %s is missing native_asset or programs.governance", path)
	}
	return &net, nil
}
