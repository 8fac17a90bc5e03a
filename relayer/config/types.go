package config

import "time"

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (1 in 5)

	// Node Config
	NodeHome string `json:"node_home"` // Home directory (default: ~/.snzup)

	// Ledger configuration
	RPCURLs       []string `json:"rpc_urls"`       // JSON-RPC endpoints, used round-robin
	Commitment    string   `json:"commitment"`     // processed, confirmed or finalized (default: confirmed)
	SkipPreflight bool     `json:"skip_preflight"` // send without the node's preflight simulation

	// Program configuration
	ProgramID      string `json:"program_id"`      // Challenge program address
	LayoutVersion  string `json:"layout_version"`  // "treasury" (default) or "legacy"
	LegacyTreasury string `json:"legacy_treasury"` // Commission recipient for the legacy layout

	// Signer configuration. KeypairBase58 wins when both are set.
	KeypairPath   string `json:"keypair_path"`   // JSON array keypair file (solana-keygen format)
	KeypairBase58 string `json:"keypair_base58"` // base58 encoded 64-byte keypair

	// Failure policies: "fail_closed" (default) or "fallback_value"
	DecodePolicy         string `json:"decode_policy"`
	RentPolicy           string `json:"rent_policy"`
	RentFallbackLamports uint64 `json:"rent_fallback_lamports"` // 0 derives the value from the account size

	// Concurrency configuration
	RPCConcurrency   int     `json:"rpc_concurrency"`    // Max in-flight ledger calls (default: 8)
	BuildConcurrency int     `json:"build_concurrency"`  // Max concurrent transaction builds (default: 4)
	MaxQueue         int     `json:"max_queue"`          // Waiters per gate before rejecting (default: 1000)
	RPCRateLimit     float64 `json:"rpc_rate_limit"`     // Ledger calls per second, 0 = unlimited (default: 20)
	RPCRateBurst     int     `json:"rpc_rate_burst"`     // Token bucket capacity (default: 40)
	RetryMaxAttempts int     `json:"retry_max_attempts"` // Attempts per ledger call (default: 3)
	RetryBaseDelayMs int     `json:"retry_base_delay_ms"`
	RetryMaxDelayMs  int     `json:"retry_max_delay_ms"`

	// Cache configuration
	ReadCacheSize                   int `json:"read_cache_size"`
	ReadCacheTTLMs                  int `json:"read_cache_ttl_ms"`      // default: 2000
	BlockhashCacheTTLMs             int `json:"blockhash_cache_ttl_ms"` // default: 20000
	IdempotencyTTLSeconds           int `json:"idempotency_ttl_seconds"`
	IdempotencyMaxEntries           int `json:"idempotency_max_entries"`
	IdempotencySweepIntervalSeconds int `json:"idempotency_sweep_interval_seconds"`
	RentRefreshIntervalSeconds      int `json:"rent_refresh_interval_seconds"`

	// Transaction configuration
	MaxSubmitAttempts      int    `json:"max_submit_attempts"`      // Fresh builds on blockhash expiry (default: 3)
	ComputeUnitLimit       uint32 `json:"compute_unit_limit"`       // 0 omits the instruction
	ComputeUnitPrice       uint64 `json:"compute_unit_price"`       // micro-lamports per unit, 0 omits the instruction
	MaxTransactionAccounts int    `json:"max_transaction_accounts"` // default: 64
	ConfirmPollIntervalMs  int    `json:"confirm_poll_interval_ms"`

	// Query Server Config
	QueryServerPort       int     `json:"query_server_port"`       // Port for HTTP server (default: 8080)
	HTTPRateLimit         float64 `json:"http_rate_limit"`         // Requests per second per client IP, 0 = unlimited
	HTTPRateBurst         int     `json:"http_rate_burst"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds"` // Upper bound for one request (default: 90)
	ProbeTimeoutMs        int     `json:"probe_timeout_ms"`        // Readiness probe timeout (default: 3000)
}

func ms(v int) time.Duration      { return time.Duration(v) * time.Millisecond }
func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

// ReadCacheTTL returns the snapshot cache lifetime
func (c *Config) ReadCacheTTL() time.Duration { return ms(c.ReadCacheTTLMs) }

// BlockhashCacheTTL returns how long one anchor is shared
func (c *Config) BlockhashCacheTTL() time.Duration { return ms(c.BlockhashCacheTTLMs) }

// IdempotencyTTL returns how long mutation results are remembered
func (c *Config) IdempotencyTTL() time.Duration { return seconds(c.IdempotencyTTLSeconds) }

func (c *Config) IdempotencySweepInterval() time.Duration {
	return seconds(c.IdempotencySweepIntervalSeconds)
}

func (c *Config) RentRefreshInterval() time.Duration { return seconds(c.RentRefreshIntervalSeconds) }

func (c *Config) RetryBaseDelay() time.Duration { return ms(c.RetryBaseDelayMs) }

func (c *Config) RetryMaxDelay() time.Duration { return ms(c.RetryMaxDelayMs) }

func (c *Config) ConfirmPollInterval() time.Duration { return ms(c.ConfirmPollIntervalMs) }

func (c *Config) RequestTimeout() time.Duration { return seconds(c.RequestTimeoutSeconds) }

func (c *Config) ProbeTimeout() time.Duration { return ms(c.ProbeTimeoutMs) }
