package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	NATS        NATSConfig       `mapstructure:"nats"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	Bridge      BridgeConfig     `mapstructure:"bridge"`
	Chains      []ChainConfig    `mapstructure:"chains"`
	Pools       []PoolConfig     `mapstructure:"pools"`
	Validators  ValidatorsConfig `mapstructure:"validators"`
	CCTP        CCTPConfig       `mapstructure:"cctp"`
	Vault       VaultConfig      `mapstructure:"vault"`
	Workers     WorkerConfig     `mapstructure:"workers"`
}

// ServerConfig is the ops listener (health and metrics)
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// NATSConfig controls where bridge updates are published
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// BridgeConfig contains fee policy, timeouts and yield settings for the orchestrator
type BridgeConfig struct {
	BaseFeeRate             float64  `mapstructure:"base_fee_rate"`
	CrossEcosystemSurcharge float64  `mapstructure:"cross_ecosystem_surcharge"`
	MaxFeeRatio             float64  `mapstructure:"max_fee_ratio"`
	SettlementOverhead      int      `mapstructure:"settlement_overhead"`  // seconds
	ConsensusTimeout        int      `mapstructure:"consensus_timeout"`    // seconds
	ConsensusResultTTL      int      `mapstructure:"consensus_result_ttl"` // seconds
	ConsensusMaxResults     int      `mapstructure:"consensus_max_results"`
	SettlementTimeout       int      `mapstructure:"settlement_timeout"` // seconds
	SettlementPollInterval  int      `mapstructure:"settlement_poll_ms"`
	LockTTL                 int      `mapstructure:"lock_ttl"`  // seconds
	CacheTTL                int      `mapstructure:"cache_ttl"` // seconds
	AutoProcess             bool     `mapstructure:"auto_process"`
	PrimaryToken            string   `mapstructure:"primary_token"`
	PoolTokens              []string `mapstructure:"pool_tokens"`
	BaselineAPY             float64  `mapstructure:"baseline_apy"`
	LiquidityBaseWait       int      `mapstructure:"liquidity_base_wait"` // seconds
	LiquidityMaxWait        int      `mapstructure:"liquidity_max_wait"`  // seconds
}

// ChainConfig describes one supported chain
type ChainConfig struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	Ecosystem     string `mapstructure:"ecosystem"`
	AddressFormat string `mapstructure:"address_format"` // evm or solana
	Confirmations int    `mapstructure:"confirmations"`
	BlockTimeMs   int    `mapstructure:"block_time_ms"`
	Testnet       bool   `mapstructure:"testnet"`
	CCTPDomain    uint32 `mapstructure:"cctp_domain"`
}

// PoolConfig seeds a liquidity pool at process start
type PoolConfig struct {
	Token                string  `mapstructure:"token"`
	SourceEcosystem      string  `mapstructure:"source_ecosystem"`
	DestinationEcosystem string  `mapstructure:"destination_ecosystem"`
	SourceBalance        float64 `mapstructure:"source_balance"`
	DestinationBalance   float64 `mapstructure:"destination_balance"`
	RebalanceThreshold   float64 `mapstructure:"rebalance_threshold"`
	MinLiquidity         float64 `mapstructure:"min_liquidity"`
	MaxLiquidity         float64 `mapstructure:"max_liquidity"`
	Active               bool    `mapstructure:"active"`
}

// ValidatorsConfig lists the validator set. Local keys are for development only.
type ValidatorsConfig struct {
	Mode      string                  `mapstructure:"mode"` // local or remote
	LocalKeys []string                `mapstructure:"local_keys"`
	Remote    []RemoteValidatorConfig `mapstructure:"remote"`
	Timeout   int                     `mapstructure:"timeout"` // seconds per signature request
}

type RemoteValidatorConfig struct {
	Address string `mapstructure:"address"`
	URL     string `mapstructure:"url"`
}

// CCTPConfig configures the Iris attestation API used by the fast settlement path
type CCTPConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	Environment string `mapstructure:"environment"` // sandbox or mainnet
	Timeout     int    `mapstructure:"timeout"`
}

// VaultConfig configures the escrow/vault gateway used for deposits and releases
type VaultConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    int    `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// WorkerConfig contains background worker configuration
type WorkerConfig struct {
	RebalanceSchedule string `mapstructure:"rebalance_schedule"`
	RebalanceTimeout  int    `mapstructure:"rebalance_timeout"` // seconds
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (b BridgeConfig) SettlementOverheadDuration() time.Duration { return seconds(b.SettlementOverhead) }
func (b BridgeConfig) ConsensusTimeoutDuration() time.Duration { return seconds(b.ConsensusTimeout) }
func (b BridgeConfig) ConsensusResultTTLDuration() time.Duration { return seconds(b.ConsensusResultTTL) }
func (b BridgeConfig) SettlementTimeoutDuration() time.Duration { return seconds(b.SettlementTimeout) }
func (b BridgeConfig) LockTTLDuration() time.Duration { return seconds(b.LockTTL) }
func (b BridgeConfig) CacheTTLDuration() time.Duration { return seconds(b.CacheTTL) }
func (b BridgeConfig) LiquidityBaseWaitDuration() time.Duration { return seconds(b.LiquidityBaseWait) }
func (b BridgeConfig) LiquidityMaxWaitDuration() time.Duration { return seconds(b.LiquidityMaxWait) }
func (b BridgeConfig) SettlementPollDuration() time.Duration {
	return time.Duration(b.SettlementPollInterval) * time.Millisecond
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "yield_bridge")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.migrations_path", "migrations")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "bridge.updates")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)

	// Bridge defaults
	v.SetDefault("bridge.base_fee_rate", 0.001)
	v.SetDefault("bridge.cross_ecosystem_surcharge", 0.003)
	v.SetDefault("bridge.max_fee_ratio", 0.01)
	v.SetDefault("bridge.settlement_overhead", 60)
	v.SetDefault("bridge.consensus_timeout", 30)
	v.SetDefault("bridge.consensus_result_ttl", 3600)
	v.SetDefault("bridge.consensus_max_results", 10000)
	v.SetDefault("bridge.settlement_timeout", 120)
	v.SetDefault("bridge.settlement_poll_ms", 2000)
	v.SetDefault("bridge.lock_ttl", 300)
	v.SetDefault("bridge.cache_ttl", 3600)
	v.SetDefault("bridge.auto_process", true)
	v.SetDefault("bridge.primary_token", "USDC")
	v.SetDefault("bridge.pool_tokens", []string{"USDT", "PYUSD"})
	v.SetDefault("bridge.baseline_apy", 0.045)
	v.SetDefault("bridge.liquidity_base_wait", 300)
	v.SetDefault("bridge.liquidity_max_wait", 3600)

	v.SetDefault("chains", defaultChains())
	v.SetDefault("pools", defaultPools())

	v.SetDefault("validators.mode", "local")
	v.SetDefault("validators.timeout", 10)

	v.SetDefault("cctp.environment", "sandbox")
	v.SetDefault("cctp.timeout", 30)

	v.SetDefault("vault.base_url", "http://localhost:8090")
	v.SetDefault("vault.timeout", 30)
	v.SetDefault("vault.max_retries", 3)

	// Worker defaults
	v.SetDefault("workers.rebalance_schedule", "*/15 * * * *")
	v.SetDefault("workers.rebalance_timeout", 60)
}

func defaultChains() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": "ethereum", "name": "Ethereum", "ecosystem": "primary", "address_format": "evm", "confirmations": 12, "block_time_ms": 12000, "testnet": false, "cctp_domain": 0},
		{"id": "sepolia", "name": "Ethereum Sepolia", "ecosystem": "primary", "address_format": "evm", "confirmations": 3, "block_time_ms": 12000, "testnet": true, "cctp_domain": 0},
		{"id": "polygon", "name": "Polygon PoS", "ecosystem": "secondary", "address_format": "evm", "confirmations": 64, "block_time_ms": 2000, "testnet": false, "cctp_domain": 7},
		{"id": "polygon-amoy", "name": "Polygon Amoy", "ecosystem": "secondary", "address_format": "evm", "confirmations": 16, "block_time_ms": 2000, "testnet": true, "cctp_domain": 7},
		{"id": "solana", "name": "Solana", "ecosystem": "tertiary", "address_format": "solana", "confirmations": 32, "block_time_ms": 400, "testnet": false, "cctp_domain": 5},
		{"id": "solana-devnet", "name": "Solana Devnet", "ecosystem": "tertiary", "address_format": "solana", "confirmations": 1, "block_time_ms": 400, "testnet": true, "cctp_domain": 5},
	}
}

func defaultPools() []map[string]interface{} {
	ecosystems := []string{"primary", "secondary", "tertiary"}
	tokens := []string{"USDC", "USDT", "PYUSD"}
	pools := make([]map[string]interface{}, 0, len(tokens)*6)
	for _, token := range tokens {
		for _, src := range ecosystems {
			for _, dst := range ecosystems {
				if src == dst {
					continue
				}
				pools = append(pools, map[string]interface{}{
					"token":                 token,
					"source_ecosystem":      src,
					"destination_ecosystem": dst,
					"source_balance":        250000.0,
					"destination_balance":   750000.0,
					"rebalance_threshold":   0.8,
					"min_liquidity":         50000.0,
					"max_liquidity":         1000000.0,
					"active":                true,
				})
			}
		}
	}
	return pools
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}

	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		v.Set("redis.host", redisURL)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		v.Set("nats.url", natsURL)
		v.Set("nats.enabled", true)
	}

	if vaultKey := os.Getenv("VAULT_API_KEY"); vaultKey != "" {
		v.Set("vault.api_key", vaultKey)
	}
	if vaultURL := os.Getenv("VAULT_BASE_URL"); vaultURL != "" {
		v.Set("vault.base_url", vaultURL)
	}
	if cctpEnv := os.Getenv("CCTP_ENVIRONMENT"); cctpEnv != "" {
		v.Set("cctp.environment", cctpEnv)
	}

	// Comma separated hex keys, development only
	if keys := os.Getenv("VALIDATOR_LOCAL_KEYS"); keys != "" {
		var parsed []string
		for _, part := range strings.Split(keys, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
		v.Set("validators.local_keys", parsed)
	}
}

func validate(config *Config) error {
	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if len(config.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	b := config.Bridge
	if b.BaseFeeRate < 0 || b.CrossEcosystemSurcharge < 0 {
		return fmt.Errorf("fee rates must not be negative")
	}
	if b.MaxFeeRatio <= 0 || b.MaxFeeRatio >= 1 {
		return fmt.Errorf("bridge.max_fee_ratio must be in (0,1)")
	}
	if b.ConsensusTimeout <= 0 || b.SettlementTimeout <= 0 {
		return fmt.Errorf("bridge consensus and settlement timeouts are required")
	}
	if b.PrimaryToken == "" {
		return fmt.Errorf("bridge.primary_token is required")
	}

	switch config.Validators.Mode {
	case "local":
		if config.Environment == "production" {
			return fmt.Errorf("local validator keys are not allowed in production")
		}
	case "remote":
		if len(config.Validators.Remote) == 0 {
			return fmt.Errorf("remote validator mode requires at least one validator")
		}
	default:
		return fmt.Errorf("unknown validators.mode %q", config.Validators.Mode)
	}

	return nil
}
