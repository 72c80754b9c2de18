// Post-close arbitrage engine for 5-minute crypto up/down prediction
// markets.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every
//	                             component, starts one coordinator per
//	                             symbol, waits for SIGINT/SIGTERM
//	internal/period            — wall-clock window alignment and boundaries
//	internal/oracle            — streaming price feed, window captures,
//	                             RPC fallback on stale/missing reads
//	internal/book               — local order book mirror fed by WebSocket
//	                             snapshots + price changes
//	internal/discovery          — resolves a window's market and outcome
//	                             token IDs from the Gamma/CLOB HTTP APIs
//	internal/presign            — EIP-712 order building and signing
//	internal/coordinator         — per-symbol window state machine;
//	                             on-demand order-signing pool
//	internal/sweep              — FOK sweep loop against the winning token
//	internal/submit              — authenticated, rate-limited order
//	                             submission and L1/L2 credential handling
//	internal/riskgate            — confidence, source-agreement,
//	                             correlation, and position-cap checks
//	internal/journal              — crash-safe append-only position log
//
// How it makes money:
//
//	Each 5-minute window's up/down market resolves by comparing the
//	close price against the price-to-beat captured at the window's
//	start. Once the winning side is known — fractions of a second after
//	close, before the market's own resolution feed catches up — the
//	engine sweeps the winning token's cheap asks with FOK orders,
//	buying shares at well under $1 that redeem for exactly $1 once the
//	market resolves.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbengine/post-close-arb/internal/book"
	"github.com/arbengine/post-close-arb/internal/config"
	"github.com/arbengine/post-close-arb/internal/coordinator"
	"github.com/arbengine/post-close-arb/internal/discovery"
	"github.com/arbengine/post-close-arb/internal/journal"
	"github.com/arbengine/post-close-arb/internal/oracle"
	"github.com/arbengine/post-close-arb/internal/period"
	"github.com/arbengine/post-close-arb/internal/presign"
	"github.com/arbengine/post-close-arb/internal/riskgate"
	"github.com/arbengine/post-close-arb/internal/submit"
	"github.com/arbengine/post-close-arb/internal/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be submitted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logger.Error("failed to open journal", "error", err)
		os.Exit(1)
	}
	defer j.Close()
	logger.Info("journal opened", "path", cfg.Journal.Path, "outstanding_cost", j.OutstandingCost())

	signer, err := presign.NewSigner(cfg.Wallet.PrivateKey, cfg.Wallet.FunderAddress, cfg.Wallet.ChainID, cfg.Wallet.SignatureType)
	if err != nil {
		logger.Error("failed to create signer", "error", err)
		os.Exit(1)
	}

	creds := submit.Credentials{ApiKey: cfg.API.ApiKey, Secret: cfg.API.Secret, Passphrase: cfg.API.Passphrase}
	if creds.ApiKey == "" || creds.Secret == "" || creds.Passphrase == "" {
		derived, err := submit.DeriveCredentials(ctx, cfg.API.CLOBBaseURL, signer)
		if err != nil {
			logger.Error("failed to derive L2 credentials", "error", err)
			os.Exit(1)
		}
		creds = derived
		logger.Info("derived L2 credentials", "api_key", creds.ApiKey)
	}

	clock, err := period.New(cfg.Window.TZ, time.Duration(cfg.Window.DurationSecs)*time.Second)
	if err != nil {
		logger.Error("failed to create window clock", "error", err)
		os.Exit(1)
	}

	fallback := oracle.NewHTTPFallbackSource(cfg.API.RPCBaseURL)
	oracleCache := oracle.NewCache(clock, cfg.Window.CaptureSecs, time.Duration(cfg.Risk.OracleFreshnessSecs)*time.Second, fallback)

	symbols, err := parseSymbols(cfg.Window.Symbols)
	if err != nil {
		logger.Error("invalid window.symbols", "error", err)
		os.Exit(1)
	}

	pairs := make(map[types.Symbol]string, len(symbols))
	for _, s := range symbols {
		pairs[s] = string(s) + "/usd"
	}
	oracleFeed := oracle.NewFeed(cfg.API.WSOracleURL, "crypto_prices", pairs, oracleCache, logger)

	mirror := book.NewMirror()
	bookFeed := book.NewFeed(cfg.API.WSMarketURL, mirror, logger)

	discoveryClient := discovery.NewClient(cfg.API.GammaBaseURL, cfg.API.CLOBBaseURL, clock.Duration())

	metaSource := presign.NewHTTPMetaSource(cfg.API.CLOBBaseURL)
	builder := presign.NewBuilder(signer, metaSource)

	session := submit.NewSession(signer.Address().Hex(), creds)
	submitter := submit.NewSubmitter(cfg.API.CLOBBaseURL, session, cfg.Sweep.RateLimitPerSec, cfg.DryRun)

	gate := riskgate.NewGate(riskGateConfig(cfg), j, logger)

	var feedWG sync.WaitGroup
	feedWG.Add(2)
	go func() {
		defer feedWG.Done()
		if err := oracleFeed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("oracle feed exited", "error", err)
		}
	}()
	go func() {
		defer feedWG.Done()
		if err := bookFeed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("book feed exited", "error", err)
		}
	}()

	maxPosition := decimal.NewFromFloat(cfg.Risk.MaxPositionPerMarket)
	targetPrice := decimal.NewFromFloat(cfg.Sweep.TargetPrice)

	var coordWG sync.WaitGroup
	for _, symbol := range symbols {
		coordCfg := coordinator.Config{
			Symbol:               symbol,
			MaxPositionPerWindow: maxPosition,
			SweepTargetPrice:     targetPrice,
			SweepTimeout:         time.Duration(cfg.Sweep.TimeoutSecs) * time.Second,
			InterOrderDelay:      time.Duration(cfg.Sweep.InterOrderDelayMs) * time.Millisecond,
			BookWait:             time.Duration(cfg.Sweep.BookWaitSecs) * time.Second,
		}
		coord := coordinator.New(coordCfg, clock, oracleCache, discoveryClient, mirror, bookFeed, builder, submitter, gate, j, logger)
		coordWG.Add(1)
		go func() {
			defer coordWG.Done()
			coord.Run(ctx)
		}()
	}

	logger.Info("arbitrage engine started", "symbols", cfg.Window.Symbols, "dry_run", cfg.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	// Every coordinator finishes its current window (sweepAndJournal already
	// in flight runs to completion; only future sleeps/windows are cut short)
	// before Run returns, so joining here guarantees every fill the sweep
	// loop already committed is journaled before the process exits.
	coordWG.Wait()

	// Drain any submission still in flight at the exchange — Submit uses a
	// detached context for the request itself, so cancel() above didn't
	// abort it — before touching the journal one last time.
	submitter.Stop(10 * time.Second)

	feedWG.Wait()
	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseSymbols(raw []string) ([]types.Symbol, error) {
	out := make([]types.Symbol, 0, len(raw))
	for _, s := range raw {
		sym := types.Symbol(strings.ToLower(strings.TrimSpace(s)))
		switch sym {
		case types.BTC, types.ETH, types.SOL, types.XRP:
			out = append(out, sym)
		default:
			return nil, fmt.Errorf("unknown symbol in window.symbols: %s", s)
		}
	}
	return out, nil
}

func riskGateConfig(cfg *config.Config) riskgate.Config {
	abs := make(map[types.Symbol]decimal.Decimal, len(cfg.Risk.MinConfidenceAbs))
	for sym, floor := range cfg.Risk.MinConfidenceAbs {
		abs[types.Symbol(sym)] = decimal.NewFromFloat(floor)
	}
	return riskgate.Config{
		MinConfidencePct:     decimal.NewFromFloat(cfg.Risk.MinConfidencePct),
		MinConfidenceAbs:     abs,
		MaxTotalOutstanding:  decimal.NewFromFloat(cfg.Risk.MaxTotalOutstanding),
		CorrelationSettle:    time.Duration(cfg.Risk.CorrelationSettleMs) * time.Millisecond,
		CorrelationThreshold: cfg.Risk.CorrelationThreshold,
		CorrelationAllowed:   cfg.Risk.CorrelationAllowed,
	}
}
