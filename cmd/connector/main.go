package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/tegro-connector/params"
	"github.com/uhyunpark/tegro-connector/pkg/api"
	"github.com/uhyunpark/tegro-connector/pkg/chain"
	"github.com/uhyunpark/tegro-connector/pkg/connector"
	"github.com/uhyunpark/tegro-connector/pkg/crypto"
	"github.com/uhyunpark/tegro-connector/pkg/exchange"
	"github.com/uhyunpark/tegro-connector/pkg/storage"
	"github.com/uhyunpark/tegro-connector/pkg/tracker"
	"github.com/uhyunpark/tegro-connector/pkg/util"
)

func main() {
	// Load config from .env file, optional YAML and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	} else {
		logger, err = util.NewLogger(cfg.Node.Verbose)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	chainID, _ := cfg.ChainID()

	// ---- Wallet ----
	signer, err := crypto.FromPrivateKeyHex(cfg.Wallet.PrivateKey)
	if err != nil {
		sugar.Fatalw("wallet_key_invalid", "err", err)
	}
	if cfg.Wallet.Address != "" {
		want, err := crypto.ChecksumAddress(cfg.Wallet.Address)
		if err != nil {
			sugar.Fatalw("wallet_address_invalid", "address", cfg.Wallet.Address, "err", err)
		}
		if want != signer.Address().Hex() {
			sugar.Fatalw("wallet_address_mismatch", "configured", want, "derived", signer.Address().Hex())
		}
	}
	sugar.Infow("wallet_loaded", "address", signer.Address().Hex(), "domain", cfg.Exchange.Domain, "chain_id", chainID)

	// ---- Storage ----
	fills, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "fills"))
	if err != nil {
		sugar.Fatalw("fill_store_open_failed", "dir", cfg.Node.DataDir, "err", err)
	}
	defer fills.Close()
	if n, err := fills.PruneFills(util.Seconds(time.Now().Add(-cfg.Trading.FillRetention))); err != nil {
		sugar.Warnw("fill_prune_failed", "err", err)
	} else if n > 0 {
		sugar.Infow("fills_pruned", "count", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Chain (allowance remediation) ----
	var approver connector.AllowanceApprover
	if cfg.Chain.RPCURL != "" {
		a, closeChain, err := chain.Dial(ctx, cfg.Chain.RPCURL, signer, chainID, sugar.Named("chain"))
		if err != nil {
			sugar.Warnw("chain_dial_failed", "rpc", cfg.Chain.RPCURL, "err", err)
		} else {
			defer closeChain()
			approver = a
		}
	}

	// ---- Exchange ----
	client := exchange.NewClient(cfg.Exchange.RestURL, cfg.Exchange.RequestsPerSecond, cfg.Exchange.RequestTimeout, sugar.Named("rest"))
	stream := exchange.NewUserStream(cfg.Exchange.WSURL, chainID, signer.Address().Hex(), sugar.Named("stream"))
	go stream.Run(ctx)

	ledger := tracker.New(sugar.Named("tracker"))
	conn := connector.New(client, signer, ledger, ledger, fills, approver, util.RealClock{}, sugar, connector.Config{
		ChainID:        chainID,
		TradingPairs:   cfg.Trading.Pairs,
		TickInterval:   cfg.Trading.TickInterval,
		ApproveOnStart: cfg.Trading.ApproveOnStart && approver != nil,
		Engine: connector.EngineConfig{
			ShortPollInterval:    cfg.Trading.ShortPollInterval,
			LongPollInterval:     cfg.Trading.LongPollInterval,
			ErrorBackoff:         cfg.Trading.ErrorBackoff,
			TradeLookback:        cfg.Trading.TradeLookback,
			FillRetention:        cfg.Trading.FillRetention,
			MaxConcurrentFetches: cfg.Trading.MaxFetches,
		},
	})

	if err := conn.CheckNetwork(ctx); err != nil {
		sugar.Warnw("exchange_unreachable", "url", cfg.Exchange.RestURL, "err", err)
	}

	// ---- API Server ----
	if cfg.Node.APIAddr != "" {
		apiServer := api.NewServer(conn, ledger, fills, sugar.Named("api"))
		ledger.AddListener(apiServer.Publish)
		go func() {
			if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil {
				sugar.Errorw("api_server_failed", "err", err)
				stop()
			}
		}()
	}

	sugar.Infow("connector_starting", "pairs", strings.Join(cfg.Trading.Pairs, ","),
		"short_poll", cfg.Trading.ShortPollInterval, "long_poll", cfg.Trading.LongPollInterval)

	if err := conn.Run(ctx, stream); err != nil {
		sugar.Errorw("connector_stopped", "err", err)
		return
	}
	sugar.Info("connector_stopped")
}
