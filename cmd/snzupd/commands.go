package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snzup/subscription-relayer/relayer/api"
	"github.com/snzup/subscription-relayer/relayer/config"
	"github.com/snzup/subscription-relayer/relayer/core"
	"github.com/snzup/subscription-relayer/relayer/ledger"
	"github.com/snzup/subscription-relayer/relayer/logger"
	"github.com/snzup/subscription-relayer/relayer/policy"
	"github.com/snzup/subscription-relayer/relayer/state"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(deriveCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(versionCmd())
}

// loadConfig reads <home>/config/snzup_config.json, applies SNZUP_*
// overrides and defaults
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	home, _ := cmd.Flags().GetString(flagHome)
	cfg, err := config.Load(home)
	if err != nil {
		return config.Config{}, errors.Wrapf(err, "no usable config under %s (run `snzupd init`)", home)
	}
	if cfg.NodeHome == "" {
		cfg.NodeHome = home
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(&cfg); err != nil {
		return config.Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the relayer and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

			relayer, err := core.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return relayer.Run(ctx)
		},
	}
}

func initCmd() *cobra.Command {
	var (
		force     bool
		programID string
		rpcURLs   []string
		keypair   string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to <home>/config/snzup_config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _ := cmd.Flags().GetString(flagHome)
			if _, err := os.Stat(config.Path(home)); err == nil && !force {
				return errors.Errorf("%s already exists (use --force to overwrite)", config.Path(home))
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			cfg.NodeHome = home
			if programID != "" {
				cfg.ProgramID = programID
			}
			if len(rpcURLs) > 0 {
				cfg.RPCURLs = rpcURLs
			}
			if keypair != "" {
				cfg.KeypairPath = keypair
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", config.Path(home))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.Flags().StringVar(&programID, "program-id", "", "challenge program address")
	cmd.Flags().StringSliceVar(&rpcURLs, "rpc-url", nil, "JSON-RPC endpoint (repeatable)")
	cmd.Flags().StringVar(&keypair, "keypair", "", "relayer keypair file")
	return cmd
}

// programIDFor prefers the flag, then the config file, then the default config
func programIDFor(cmd *cobra.Command, flag string) (solana.PublicKey, error) {
	raw := flag
	if raw == "" {
		if cfg, err := loadConfig(cmd); err == nil {
			raw = cfg.ProgramID
		} else if def, derr := config.LoadDefaultConfig(); derr == nil {
			raw = def.ProgramID
		}
	}
	return state.ParsePublicKey("program id", raw)
}

func deriveCmd() *cobra.Command {
	var programID string
	cmd := &cobra.Command{
		Use:   "derive <owner> <challenge-id>",
		Short: "Print the state account address of a challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := programIDFor(cmd, programID)
			if err != nil {
				return err
			}
			owner, err := state.ParsePublicKey("owner", args[0])
			if err != nil {
				return err
			}
			id, err := state.ParseChallengeID(args[1])
			if err != nil {
				return err
			}
			deriver, err := state.NewDeriver(pid)
			if err != nil {
				return err
			}
			addr, bump, err := deriver.Derive(owner, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.AddressResponse{
				Address:     addr.String(),
				Bump:        bump,
				Owner:       owner.String(),
				ChallengeID: api.U64(id),
				ProgramID:   pid.String(),
			})
		},
	}
	cmd.Flags().StringVar(&programID, "program-id", "", "challenge program address (defaults to the configured one)")
	return cmd
}

func inspectCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "inspect <challenge-id>",
		Short: "Fetch and decode a challenge account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pid, err := state.ParsePublicKey("program id", cfg.ProgramID)
			if err != nil {
				return err
			}
			ownerKey, err := state.ParsePublicKey("owner", owner)
			if err != nil {
				return err
			}
			id, err := state.ParseChallengeID(args[0])
			if err != nil {
				return err
			}
			layout, err := state.ParseLayoutVersion(cfg.LayoutVersion)
			if err != nil {
				return err
			}
			mode, err := policy.Parse(cfg.DecodePolicy)
			if err != nil {
				return err
			}

			deriver, err := state.NewDeriver(pid)
			if err != nil {
				return err
			}
			addr, _, err := deriver.Derive(ownerKey, id)
			if err != nil {
				return err
			}
			client, err := ledger.Dial(cfg.RPCURLs, ledger.Options{ProbeTimeout: cfg.ProbeTimeout()}, zerolog.Nop())
			if err != nil {
				return err
			}
			acc, err := client.GetAccount(cmd.Context(), addr)
			if err != nil {
				return err
			}
			st, err := state.NewDecoder(layout, mode).Decode(acc.Data)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.NewStateResponse(&state.Snapshot{
				Address:  addr,
				State:    st,
				Lamports: acc.Lamports,
				Slot:     acc.Slot,
			}))
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "challenge owner address")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print snzupd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Name:       %s\n", "snzupd")
			fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:     %s\n", Commit)
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
