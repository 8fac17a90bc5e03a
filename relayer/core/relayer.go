// Package core assembles the relayer from its configuration and runs it.
package core

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/snzup/subscription-relayer/relayer/api"
	"github.com/snzup/subscription-relayer/relayer/cache"
	"github.com/snzup/subscription-relayer/relayer/challenge"
	"github.com/snzup/subscription-relayer/relayer/config"
	relerrors "github.com/snzup/subscription-relayer/relayer/errors"
	"github.com/snzup/subscription-relayer/relayer/cron"
	"github.com/snzup/subscription-relayer/relayer/gate"
	"github.com/snzup/subscription-relayer/relayer/ledger"
	"github.com/snzup/subscription-relayer/relayer/metrics"
	"github.com/snzup/subscription-relayer/relayer/pipeline"
	"github.com/snzup/subscription-relayer/relayer/policy"
	"github.com/snzup/subscription-relayer/relayer/program"
	"github.com/snzup/subscription-relayer/relayer/state"
)

const shutdownTimeout = 15 * time.Second

// Relayer owns every long-lived component of the process
type Relayer struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry

	ledger    *ledger.Client
	rent      *ledger.RentFloor
	idem      *cache.IdempotencyStore
	service   *challenge.Service
	server    *api.Server
	sweepJob  *cron.IdempotencySweepJob
	rentJob   *cron.RentRefreshJob
	startedAt time.Time
}

// New validates cfg and wires a Relayer against the configured RPC URLs
func New(cfg config.Config, log zerolog.Logger) (*Relayer, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, relerrors.Config("invalid configuration", err)
	}
	endpoints := make([]ledger.RPC, 0, len(cfg.RPCURLs))
	for _, url := range cfg.RPCURLs {
		if url != "" {
			endpoints = append(endpoints, rpc.New(url))
		}
	}
	return NewWithEndpoints(cfg, endpoints, log)
}

// NewWithEndpoints wires a Relayer over already constructed RPC endpoints
func NewWithEndpoints(cfg config.Config, endpoints []ledger.RPC, log zerolog.Logger) (*Relayer, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, relerrors.Config("invalid configuration", err)
	}

	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, relerrors.Config("invalid program id", err)
	}
	layout, err := state.ParseLayoutVersion(cfg.LayoutVersion)
	if err != nil {
		return nil, relerrors.Config("invalid layout version", err)
	}
	var legacyTreasury solana.PublicKey
	if cfg.LegacyTreasury != "" {
		if legacyTreasury, err = solana.PublicKeyFromBase58(cfg.LegacyTreasury); err != nil {
			return nil, relerrors.Config("invalid legacy treasury", err)
		}
	}
	decodeMode, err := policy.Parse(cfg.DecodePolicy)
	if err != nil {
		return nil, relerrors.Config("invalid decode policy", err)
	}
	rentMode, err := policy.Parse(cfg.RentPolicy)
	if err != nil {
		return nil, relerrors.Config("invalid rent policy", err)
	}
	signer, err := loadSigner(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	rpcGate := gate.New("rpc", cfg.RPCConcurrency, cfg.MaxQueue, m)
	buildGate := gate.New("build", cfg.BuildConcurrency, cfg.MaxQueue, m)
	exclusive := gate.NewExclusive("distribution", cfg.MaxQueue, m)

	retry := relerrors.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.BaseDelay = cfg.RetryBaseDelay()
	retry.MaxDelay = cfg.RetryMaxDelay()

	client, err := ledger.NewClient(endpoints, ledger.Options{
		Commitment:    rpc.CommitmentType(cfg.Commitment),
		SkipPreflight: cfg.SkipPreflight,
		PollInterval:  cfg.ConfirmPollInterval(),
		ProbeTimeout:  cfg.ProbeTimeout(),
		Retry:         retry,
		Limiter:       gate.NewRateLimiter(cfg.RPCRateLimit, cfg.RPCRateBurst),
		Gate:          rpcGate,
		Metrics:       m,
	}, log)
	if err != nil {
		return nil, err
	}

	deriver, err := state.NewDeriver(programID)
	if err != nil {
		return nil, relerrors.Config("invalid program id", err)
	}
	rent := ledger.NewRentFloor(client, uint64(layout.AccountSize()), rentMode, cfg.RentFallbackLamports, m, log)
	idem := cache.NewIdempotencyStore(cfg.IdempotencyTTL(), cfg.IdempotencyMaxEntries, m, log)

	pipe := pipeline.New(pipeline.Config{
		MaxAttempts:      cfg.MaxSubmitAttempts,
		ComputeUnitLimit: cfg.ComputeUnitLimit,
		ComputeUnitPrice: cfg.ComputeUnitPrice,
	}, client, signer, cache.NewBlockhashCache(cfg.BlockhashCacheTTL(), m), buildGate, m, log)

	envelope := program.Envelope{
		ComputeUnitLimit: cfg.ComputeUnitLimit > 0,
		ComputeUnitPrice: cfg.ComputeUnitPrice > 0,
	}
	service, err := challenge.New(challenge.Config{
		MaxTransactionAccounts: cfg.MaxTransactionAccounts,
		Envelope:               envelope,
		LegacyTreasury:         legacyTreasury,
	}, challenge.Deps{
		Deriver:     deriver,
		Decoder:     state.NewDecoder(layout, decodeMode),
		Builder:     program.NewBuilder(programID, layout),
		Ledger:      client,
		Submitter:   pipe,
		Rent:        rent,
		Reads:       cache.NewReadCache(cfg.ReadCacheSize, cfg.ReadCacheTTL(), m, log),
		Idempotency: idem,
		Exclusive:   exclusive,
	}, log)
	if err != nil {
		return nil, err
	}

	server := api.NewServer(service, client, registry, m, api.Options{
		Port:           cfg.QueryServerPort,
		RateLimit:      cfg.HTTPRateLimit,
		RateBurst:      cfg.HTTPRateBurst,
		RequestTimeout: cfg.RequestTimeout(),
		ProbeTimeout:   cfg.ProbeTimeout(),
	}, log)

	return &Relayer{
		cfg:      cfg,
		log:      log.With().Str("component", "relayer").Logger(),
		registry: registry,
		ledger:   client,
		rent:     rent,
		idem:     idem,
		service:  service,
		server:   server,
		sweepJob: cron.NewIdempotencySweepJob(idem, cfg.IdempotencySweepInterval(), log),
		rentJob:  cron.NewRentRefreshJob(rent, cfg.RentRefreshInterval(), cfg.RequestTimeout(), log),
	}, nil
}

func loadSigner(cfg config.Config) (*pipeline.Signer, error) {
	switch {
	case cfg.KeypairBase58 != "":
		s, err := pipeline.ParseSigner(cfg.KeypairBase58)
		if err != nil {
			return nil, relerrors.Config("invalid relayer keypair", err)
		}
		return s, nil
	case cfg.KeypairPath != "":
		s, err := pipeline.LoadSignerFile(cfg.KeypairPath)
		if err != nil {
			return nil, relerrors.Config("cannot load relayer keypair", err)
		}
		return s, nil
	default:
		return nil, relerrors.Config("no relayer keypair configured (keypair_path or keypair_base58)", nil)
	}
}

// Service returns the challenge operations
func (r *Relayer) Service() *challenge.Service {
	return r.service
}

// Server returns the HTTP server
func (r *Relayer) Server() *api.Server {
	return r.server
}

// Start warms the rent floor, launches the background jobs and the HTTP
// server. An unreachable ledger at startup is logged, not fatal.
func (r *Relayer) Start(ctx context.Context) error {
	r.startedAt = time.Now()
	r.log.Info().
		Str("relayer", r.service.Relayer().String()).
		Str("program_id", r.cfg.ProgramID).
		Str("layout", r.cfg.LayoutVersion).
		Strs("rpc_urls", r.cfg.RPCURLs).
		Msg("starting relayer")

	if err := r.ledger.Probe(ctx); err != nil {
		r.log.Warn().Err(err).Msg("ledger not reachable at startup; serving anyway")
	} else if v, err := r.rent.Refresh(ctx); err != nil {
		r.log.Warn().Err(err).Msg("rent floor not available yet; it will be fetched on first use")
	} else {
		r.log.Info().Uint64("lamports", v).Msg("rent floor loaded")
	}

	if err := r.sweepJob.Start(ctx); err != nil {
		return err
	}
	if err := r.rentJob.Start(ctx); err != nil {
		r.sweepJob.Stop()
		return err
	}
	if err := r.server.Start(); err != nil {
		r.rentJob.Stop()
		r.sweepJob.Stop()
		return err
	}
	r.log.Info().Int("port", r.cfg.QueryServerPort).Msg("relayer ready")
	return nil
}

// Run starts the relayer and blocks until ctx is done, then shuts down
func (r *Relayer) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return r.Stop()
}

// Stop drains in-flight requests and stops the background jobs
func (r *Relayer) Stop() error {
	r.log.Info().Msg("shutting down relayer")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := r.server.Stop(ctx)
	r.rentJob.Stop()
	r.sweepJob.Stop()
	r.log.Info().Dur("uptime", time.Since(r.startedAt)).Int("idempotency_entries", r.idem.Len()).Msg("relayer stopped")
	return err
}
