package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	strutil "guardian/pkg/platform/strings"
)

// Network describes the chain the ledger lives on. Sent verbatim as the
// wallet_addEthereumChain parameters when the wallet does not know it.
type Network struct {
	ChainID        uint64
	Name           string
	RPCURL         string
	CurrencyName   string
	CurrencySymbol string
	Decimals       uint8
	ExplorerURL    string
}

// Contracts holds deployed contract addresses as hex strings.
type Contracts struct {
	Ledger   string
	Registry string
}

// Transaction bounds the confirmation wait and per-call gas ceilings.
type Transaction struct {
	ConfirmationTimeout   time.Duration
	MaxConfirmationBlocks uint64
	PollInterval          time.Duration
	// GasLimits overrides per-method gas ceilings, keyed by ABI method name.
	GasLimits map[string]uint64
}

// Wallet selects the provider implementation.
type Wallet struct {
	// Provider is "rpc" (external wallet agent) or "key" (local private key).
	Provider     string
	URL          string
	PrivateKey   string
	PollInterval time.Duration
}

// Session configures at-rest session persistence.
type Session struct {
	// Backend is "memory", "file" or "redis".
	Backend  string
	Key      string
	TTL      time.Duration
	FilePath string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend configures the managed identity backend.
type Backend struct {
	DatabaseURL   string
	JWTSigningKey string
	TokenTTL      time.Duration
}

// Audit configures where audit events go besides the log.
type Audit struct {
	KafkaBrokers []string
	Topic        string
	Group        string
	AsyncBuffer  int
}

// Config is the full process configuration.
type Config struct {
	Environment string
	LogLevel    string
	LogFormat   string
	MetricsAddr string

	Network     Network
	Contracts   Contracts
	Transaction Transaction
	Wallet      Wallet
	Session     Session
	Redis       RedisConfig
	Backend     Backend
	Audit       Audit
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Environment: getEnv("GUARDIAN_ENV", "development"),
		LogLevel:    getEnv("GUARDIAN_LOG_LEVEL", "info"),
		LogFormat:   getEnv("GUARDIAN_LOG_FORMAT", "json"),
		MetricsAddr: getEnv("GUARDIAN_METRICS_ADDR", ":9090"),
		Network: Network{
			ChainID:        getUint("GUARDIAN_CHAIN_ID", 31337),
			Name:           getEnv("GUARDIAN_CHAIN_NAME", "Hardhat Local"),
			RPCURL:         getEnv("GUARDIAN_RPC_URL", "http://127.0.0.1:8545"),
			CurrencyName:   getEnv("GUARDIAN_CURRENCY_NAME", "Ether"),
			CurrencySymbol: getEnv("GUARDIAN_CURRENCY_SYMBOL", "ETH"),
			Decimals:       uint8(getUint("GUARDIAN_CURRENCY_DECIMALS", 18)),
			ExplorerURL:    os.Getenv("GUARDIAN_EXPLORER_URL"),
		},
		Contracts: Contracts{
			Ledger:   os.Getenv("GUARDIAN_LEDGER_ADDRESS"),
			Registry: os.Getenv("GUARDIAN_REGISTRY_ADDRESS"),
		},
		Transaction: Transaction{
			ConfirmationTimeout:   getDuration("GUARDIAN_CONFIRMATION_TIMEOUT", 2*time.Minute),
			MaxConfirmationBlocks: getUint("GUARDIAN_MAX_CONFIRMATION_BLOCKS", 50),
			PollInterval:          getDuration("GUARDIAN_RECEIPT_POLL_INTERVAL", 2*time.Second),
			GasLimits:             getGasLimits("GUARDIAN_GAS_LIMITS"),
		},
		Wallet: Wallet{
			Provider:     getEnv("GUARDIAN_WALLET_PROVIDER", "rpc"),
			URL:          getEnv("GUARDIAN_WALLET_URL", "http://127.0.0.1:8545"),
			PrivateKey:   os.Getenv("GUARDIAN_WALLET_PRIVATE_KEY"),
			PollInterval: getDuration("GUARDIAN_WALLET_POLL_INTERVAL", time.Second),
		},
		Session: Session{
			Backend:  getEnv("GUARDIAN_SESSION_BACKEND", "file"),
			Key:      os.Getenv("GUARDIAN_SESSION_KEY"),
			TTL:      getDuration("GUARDIAN_SESSION_TTL", 12*time.Hour),
			FilePath: getEnv("GUARDIAN_SESSION_FILE", defaultSessionFile()),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("GUARDIAN_REDIS_URL"),
			PoolSize:     getInt("GUARDIAN_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("GUARDIAN_REDIS_MIN_IDLE", 1),
			DialTimeout:  getDuration("GUARDIAN_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("GUARDIAN_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("GUARDIAN_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Backend: Backend{
			DatabaseURL: os.Getenv("GUARDIAN_DATABASE_URL"),
			// Use a default for development - should be overridden in production
			JWTSigningKey: getEnv("GUARDIAN_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			TokenTTL:      getDuration("GUARDIAN_TOKEN_TTL", 12*time.Hour),
		},
		Audit: Audit{
			KafkaBrokers: strutil.SplitList(os.Getenv("GUARDIAN_KAFKA_BROKERS"), ","),
			Topic:        getEnv("GUARDIAN_AUDIT_TOPIC", "guardian.audit"),
			Group:        getEnv("GUARDIAN_AUDIT_GROUP", "guardian-audit-materializer"),
			AsyncBuffer:  getInt("GUARDIAN_AUDIT_BUFFER", 256),
		},
	}
}

// IsProduction reports whether the process runs with production defaults
// disabled.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".guardian-session"
	}
	return dir + string(os.PathSeparator) + "guardian" + string(os.PathSeparator) + "session"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getUint(key string, fallback uint64) uint64 {
	v, err := strconv.ParseUint(os.Getenv(key), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// getGasLimits parses "method=limit,method=limit". Malformed entries are
// skipped.
func getGasLimits(key string) map[string]uint64 {
	out := map[string]uint64{}
	for _, entry := range strutil.SplitList(os.Getenv(key), ",") {
		name, raw, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		limit, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil || limit == 0 {
			continue
		}
		out[strings.TrimSpace(name)] = limit
	}
	return out
}
