package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"

	"github.com/snzup/subscription-relayer/relayer/policy"
	"github.com/snzup/subscription-relayer/relayer/state"
)

const (
	configSubdir   = "config"
	configFileName = "snzup_config.json"
)

// Environment variables that override file values. Keys stay out of the
// config file when supplied this way.
const (
	EnvRPCURLs       = "SNZUP_RPC_URLS"
	EnvProgramID     = "SNZUP_PROGRAM_ID"
	EnvKeypairPath   = "SNZUP_KEYPAIR"
	EnvKeypairBase58 = "SNZUP_KEYPAIR_BASE58"
	EnvQueryPort     = "SNZUP_QUERY_SERVER_PORT"
	EnvLogLevel      = "SNZUP_LOG_LEVEL"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return errors.New("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return errors.New("log format must be 'json' or 'console'")
	}

	// Validate program config
	if cfg.ProgramID == "" {
		return errors.New("program id is required")
	}
	if _, err := solana.PublicKeyFromBase58(cfg.ProgramID); err != nil {
		return errors.Wrap(err, "invalid program id")
	}
	layout, err := state.ParseLayoutVersion(cfg.LayoutVersion)
	if err != nil {
		return err
	}
	cfg.LayoutVersion = string(layout)
	if layout == state.LayoutLegacy {
		if cfg.LegacyTreasury == "" {
			return errors.New("legacy layout requires legacy_treasury")
		}
		if _, err := solana.PublicKeyFromBase58(cfg.LegacyTreasury); err != nil {
			return errors.Wrap(err, "invalid legacy treasury")
		}
	}

	// Validate failure policies
	if _, err := policy.Parse(cfg.DecodePolicy); err != nil {
		return errors.Wrap(err, "decode policy")
	}
	if _, err := policy.Parse(cfg.RentPolicy); err != nil {
		return errors.Wrap(err, "rent policy")
	}

	// Set defaults for ledger config
	if len(cfg.RPCURLs) == 0 {
		cfg.RPCURLs = []string{"http://localhost:8899"}
	}
	switch cfg.Commitment {
	case "":
		cfg.Commitment = "confirmed"
	case "processed", "confirmed", "finalized":
	default:
		return errors.New("commitment must be 'processed', 'confirmed' or 'finalized'")
	}

	// Set defaults for concurrency
	if cfg.RPCConcurrency == 0 {
		cfg.RPCConcurrency = 8
	}
	if cfg.BuildConcurrency == 0 {
		cfg.BuildConcurrency = 4
	}
	if cfg.MaxQueue == 0 {
		cfg.MaxQueue = 1000
	}
	if cfg.RPCRateLimit < 0 || cfg.HTTPRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if cfg.RPCRateBurst == 0 {
		cfg.RPCRateBurst = 40
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryBaseDelayMs == 0 {
		cfg.RetryBaseDelayMs = 200
	}
	if cfg.RetryMaxDelayMs == 0 {
		cfg.RetryMaxDelayMs = 5000
	}
	if cfg.RetryMaxDelayMs < cfg.RetryBaseDelayMs {
		return errors.New("retry max delay must not be below the base delay")
	}

	// Set defaults for caches
	if cfg.ReadCacheSize == 0 {
		cfg.ReadCacheSize = 1024
	}
	if cfg.ReadCacheTTLMs == 0 {
		cfg.ReadCacheTTLMs = 2000
	}
	if cfg.BlockhashCacheTTLMs == 0 {
		cfg.BlockhashCacheTTLMs = 20000
	}
	if cfg.IdempotencyTTLSeconds == 0 {
		cfg.IdempotencyTTLSeconds = 600
	}
	if cfg.IdempotencyMaxEntries == 0 {
		cfg.IdempotencyMaxEntries = 10000
	}
	if cfg.IdempotencySweepIntervalSeconds == 0 {
		cfg.IdempotencySweepIntervalSeconds = 60
	}
	if cfg.RentRefreshIntervalSeconds == 0 {
		cfg.RentRefreshIntervalSeconds = 3600
	}

	// Set defaults for transactions
	if cfg.MaxSubmitAttempts == 0 {
		cfg.MaxSubmitAttempts = 3
	}
	if cfg.MaxTransactionAccounts == 0 {
		cfg.MaxTransactionAccounts = 64
	}
	if cfg.ConfirmPollIntervalMs == 0 {
		cfg.ConfirmPollIntervalMs = 500
	}

	// Set defaults for query server
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}
	if cfg.QueryServerPort < 0 || cfg.QueryServerPort > 65535 {
		return errors.New("query server port must be between 1 and 65535")
	}
	if cfg.HTTPRateBurst == 0 {
		cfg.HTTPRateBurst = 20
	}
	if cfg.RequestTimeoutSeconds == 0 {
		cfg.RequestTimeoutSeconds = 90
	}
	if cfg.ProbeTimeoutMs == 0 {
		cfg.ProbeTimeoutMs = 3000
	}

	if cfg.RPCConcurrency < 0 || cfg.BuildConcurrency < 0 || cfg.MaxQueue < 0 ||
		cfg.MaxSubmitAttempts < 0 || cfg.MaxTransactionAccounts < 0 {
		return errors.New("concurrency and transaction limits must not be negative")
	}
	return nil
}

// Validate applies defaults to cfg and reports the first invalid value
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// ApplyEnv overrides file values with the SNZUP_* environment variables that are set
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvRPCURLs); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		cfg.RPCURLs = urls
	}
	if v := os.Getenv(EnvProgramID); v != "" {
		cfg.ProgramID = v
	}
	if v := os.Getenv(EnvKeypairPath); v != "" {
		cfg.KeypairPath = v
	}
	if v := os.Getenv(EnvKeypairBase58); v != "" {
		cfg.KeypairBase58 = v
	}
	if v := os.Getenv(EnvQueryPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvQueryPort)
		}
		cfg.QueryServerPort = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		level, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvLogLevel)
		}
		cfg.LogLevel = level
	}
	return nil
}

// Path returns the location of the config file under basePath
func Path(basePath string) string {
	return filepath.Join(basePath, configSubdir, configFileName)
}

// Save writes the given config to <NodeDir>/config/snzup_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(Path(basePath), data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// Load reads and returns the config from <BasePath>/config/snzup_config.json.
func Load(basePath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(Path(basePath)))
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal default config")
	}
	return &cfg, nil
}
