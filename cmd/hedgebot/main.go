// Command hedgebot is the entry point for the LP hedge bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode. One-shot subcommands:
// import-position registers an LP position by NFT id, rebalance triggers an
// immediate rebalance for one position, and encrypt-key writes an encrypted
// keyfile for the exchange signing key.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lpquant/hedgebot/internal/app"
	"github.com/lpquant/hedgebot/internal/config"
	"github.com/lpquant/hedgebot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// encrypt-key runs before config load: it only needs its own flags.
	if flag.Arg(0) == "encrypt-key" {
		if err := encryptKey(flag.Args()[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	switch flag.Arg(0) {
	case "import-position":
		if err := importPosition(ctx, application, cfg, flag.Args()[1:]); err != nil {
			logger.Error("import failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	case "rebalance":
		if err := rebalance(ctx, application, cfg, flag.Args()[1:]); err != nil {
			logger.Error("rebalance failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	logger.Info("hedge bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("hedge bot stopped")
}

// importPosition wires dependencies and registers one LP position.
func importPosition(ctx context.Context, application *app.App, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import-position", flag.ExitOnError)
	nftID := fs.String("nft", "", "Uniswap v3 position NFT token id")
	user := fs.String("user", "default", "owning user id")
	wallet := fs.String("wallet", cfg.Wallet.Address, "LP owner wallet address")
	network := fs.String("network", "ethereum", "network the position lives on")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *nftID == "" {
		return fmt.Errorf("import-position: -nft is required")
	}

	deps, cleanup, err := app.Wire(ctx, cfg)
	if err != nil {
		return fmt.Errorf("import-position: %w", err)
	}
	defer cleanup()

	return application.ImportPosition(ctx, deps, *user, *wallet, *network, *nftID)
}

// rebalance triggers an immediate rebalance for one position.
func rebalance(ctx context.Context, application *app.App, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("rebalance", flag.ExitOnError)
	positionID := fs.String("position", "", "position id to rebalance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *positionID == "" {
		return fmt.Errorf("rebalance: -position is required")
	}

	deps, cleanup, err := app.Wire(ctx, cfg)
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	defer cleanup()

	return application.Rebalance(ctx, deps, *positionID)
}

// encryptKey encrypts a raw private key into a keyfile consumable via
// wallet.encrypted_key_path.
func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "hedgebot-key.json", "output keyfile path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := os.Getenv("HEDGEBOT_WALLET_PRIVATE_KEY")
	if key == "" {
		return fmt.Errorf("encrypt-key: HEDGEBOT_WALLET_PRIVATE_KEY must be set")
	}
	password := os.Getenv("HEDGEBOT_WALLET_KEY_PASSWORD")
	if password == "" {
		return fmt.Errorf("encrypt-key: HEDGEBOT_WALLET_KEY_PASSWORD must be set")
	}

	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return fmt.Errorf("encrypt-key: %w", err)
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("encrypt-key: write %s: %w", *out, err)
	}
	fmt.Printf("encrypted keyfile written to %s\n", *out)
	return nil
}
