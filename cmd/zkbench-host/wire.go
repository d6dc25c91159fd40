package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Real-JW/zkbench/pkg/artifacts"
	"github.com/Real-JW/zkbench/pkg/config"
	"github.com/Real-JW/zkbench/pkg/host"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/observability"
	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/store"
	"github.com/Real-JW/zkbench/pkg/verifier"
	"github.com/Real-JW/zkbench/pkg/workload"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/Real-JW/zkbench/pkg/zkvm"
)

// loadConfig reads the environment plus the optional YAML file, validates
// the result and installs the configured logger as the default.
func loadConfig(path string, stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger(stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// pipeline is the set of components one invocation wires together.
type pipeline struct {
	cfg          *config.Config
	logger       *slog.Logger
	telemetry    *observability.Provider
	blobs        artifacts.Store
	cache        *image.Cache
	vm           *zkvm.Executor
	verifier     *verifier.Verifier
	receipts     store.ReceiptStore
	orchestrator *host.Orchestrator
	closers      []func(context.Context) error
}

func (p *pipeline) Close(ctx context.Context) error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openImages wires only what building images needs.
func openImages(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{cfg: cfg, logger: logger}
	blobs, err := artifacts.Open(ctx, cfg.Artifacts)
	if err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "open artifact store", err)
	}
	p.blobs = blobs

	var index image.Index
	switch cfg.Cache.Index {
	case config.IndexRedis:
		ri := image.NewRedisIndex(image.RedisIndexConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
			TTL:      cfg.Cache.Redis.TTL,
		})
		if err := ri.Ping(ctx); err != nil {
			_ = ri.Close()
			return nil, zkerr.New(zkerr.KindConfig, "connect image index", err)
		}
		p.closers = append(p.closers, func(context.Context) error { return ri.Close() })
		index = ri
	default:
		index = image.NewMemoryIndex()
	}

	builder := image.NewBuilder(image.GoToolchain{}, image.WithBuildLogger(logger.With("component", "image-builder")))
	p.cache, err = image.NewCache(builder, image.CacheOptions{
		Size:   cfg.Cache.Size,
		Index:  index,
		Blobs:  blobs,
		Logger: logger.With("component", "image-cache"),
	})
	if err != nil {
		_ = p.Close(ctx)
		return nil, zkerr.New(zkerr.KindConfig, "open image cache", err)
	}
	return p, nil
}

// openPipeline wires every component of a full run.
func openPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	p, err := openImages(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*pipeline, error) {
		_ = p.Close(ctx)
		return nil, err
	}

	p.telemetry, err = observability.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fail(zkerr.New(zkerr.KindConfig, "open telemetry", err))
	}
	p.closers = append(p.closers, p.telemetry.Shutdown)

	pr, signer, err := openProver(cfg)
	if err != nil {
		return fail(err)
	}
	p.vm, err = zkvm.New(ctx, pr, cfg.Limits, zkvm.WithLogger(logger.With("component", "zkvm")))
	if err != nil {
		return fail(err)
	}
	p.closers = append(p.closers, p.vm.Close)

	p.verifier, err = newVerifier(cfg, signer, nil, false)
	if err != nil {
		return fail(err)
	}

	p.receipts, err = openReceipts(ctx, cfg, p.blobs)
	if err != nil {
		return fail(err)
	}
	opts := []host.Option{
		host.WithWorkloads(workload.Default()),
		host.WithTelemetry(p.telemetry),
		host.WithRetryPolicy(cfg.Retry),
		host.WithLogger(logger.With("component", "host")),
	}
	if p.receipts != nil {
		rs := p.receipts
		p.closers = append(p.closers, func(context.Context) error { return rs.Close() })
		opts = append(opts, host.WithReceiptStore(rs))
	}

	p.orchestrator, err = host.New(p.cache, p.vm, p.verifier, opts...)
	if err != nil {
		return fail(err)
	}
	return p, nil
}

// openProver returns the configured prover and, for the attestation scheme,
// the signer whose public key self-verification must trust.
func openProver(cfg *config.Config) (prover.Prover, *prover.Signer, error) {
	var (
		p      prover.Prover
		signer *prover.Signer
	)
	switch cfg.Prover.Scheme {
	case config.SchemeEd25519:
		s, err := prover.LoadSigner(cfg.Prover.KeyPath)
		if err != nil {
			return nil, nil, zkerr.New(zkerr.KindConfig, "load signing key",
				fmt.Errorf("%w (create one with `zkbench-host keygen`)", err))
		}
		p, signer = prover.NewAttestor(s), s
	case config.SchemeDev:
		p = prover.DevProver{}
	case config.SchemeExec:
		p = &prover.ExecProver{SchemeName: cfg.Prover.ExecScheme, Command: cfg.Prover.Command}
	default:
		return nil, nil, zkerr.Errorf(zkerr.KindConfig, "open prover", "unsupported scheme %q", cfg.Prover.Scheme)
	}
	if cfg.Prover.RateLimit > 0 {
		p = prover.NewLimited(p, cfg.Prover.RateLimit, cfg.Prover.Burst)
	}
	return p, signer, nil
}

// newVerifier trusts the configured keys, extra key files, the local signer
// and the external checker when one is configured.
func newVerifier(cfg *config.Config, signer *prover.Signer, extraKeys []string, allowDev bool) (*verifier.Verifier, error) {
	keys := append(append([]string{}, cfg.Prover.TrustedKeys...), extraKeys...)
	ring, err := prover.LoadKeyRing(keys...)
	if err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "load trusted keys", err)
	}
	if signer != nil {
		if err := ring.Add(signer.KeyID, signer.PublicKey()); err != nil {
			return nil, zkerr.New(zkerr.KindConfig, "trust signing key", err)
		}
	}

	var opts []verifier.Option
	if len(ring.KeyIDs()) > 0 {
		opts = append(opts, verifier.WithChecker(prover.NewAttestationChecker(ring)))
	}
	if allowDev || cfg.Prover.Scheme == config.SchemeDev {
		opts = append(opts, verifier.WithDevSeals())
	}
	if len(cfg.Prover.CheckCommand) > 0 {
		opts = append(opts, verifier.WithChecker(&prover.ExecChecker{
			SchemeName: cfg.Prover.ExecScheme,
			Command:    cfg.Prover.CheckCommand,
		}))
	}
	v, err := verifier.New(opts...)
	if err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "new verifier", err)
	}
	return v, nil
}

func openReceipts(ctx context.Context, cfg *config.Config, blobs artifacts.Store) (store.ReceiptStore, error) {
	switch cfg.Receipts.Type {
	case config.ReceiptsSQLite:
		if dir := filepath.Dir(cfg.Receipts.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, zkerr.New(zkerr.KindConfig, "open receipt store", err)
			}
		}
		s, err := store.OpenSQLite(ctx, cfg.Receipts.DSN)
		if err != nil {
			return nil, zkerr.New(zkerr.KindConfig, "open receipt store", err)
		}
		return s, nil
	case config.ReceiptsPostgres:
		s, err := store.OpenPostgres(ctx, cfg.Receipts.DSN)
		if err != nil {
			return nil, zkerr.New(zkerr.KindConfig, "open receipt store", err)
		}
		return s, nil
	case config.ReceiptsArtifact:
		return store.NewArtifactReceiptStore(blobs), nil
	default:
		return nil, nil
	}
}
