package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fieldproof-backend/config"
	"fieldproof-backend/core/fieldwork"
	fwengine "fieldproof-backend/middleware/fieldwork"
	"fieldproof-backend/middleware/fieldwork/middleware"
	fwstore "fieldproof-backend/storage/fieldwork"
	"fieldproof-backend/storage/objects"
	"fieldproof-backend/telemetry"
)

// Container holds the process-wide dependencies shared by the HTTP API and
// the MCP server.
type Container struct {
	Config config.Config
	Policy fieldwork.Policy
	Logger zerolog.Logger

	Store     fwengine.Store
	Ledger    *fwstore.SQLLedger
	Lock      *fwstore.RedisSweepLock
	Escrow    fwengine.EscrowProvider
	Objects   fwengine.StorageProvider
	ObjectsFS http.Handler
	Tracing   *telemetry.Provider

	Engine  *fwengine.Engine
	Sweeper *fwengine.Sweeper
	Limiter *fwstore.RateLimiter
	Auth    *middleware.Authenticator

	closers []func() error
}

// New builds every dependency named by cfg. On error anything already
// opened is closed.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (c *Container, err error) {
	c = &Container{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	if c.Policy, err = config.LoadPolicy(cfg.PolicyFile); err != nil {
		return c, err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Environment = cfg.AppEnv
	tcfg.OTLPEndpoint = cfg.OTELEndpoint
	if c.Tracing, err = telemetry.New(ctx, tcfg, log); err != nil {
		return c, err
	}
	c.closers = append(c.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.Tracing.Shutdown(sctx)
	})

	if err = c.initStore(ctx); err != nil {
		return c, err
	}
	if err = c.initLedger(ctx); err != nil {
		return c, err
	}
	if err = c.initObjects(ctx); err != nil {
		return c, err
	}
	if cfg.RedisAddr != "" {
		c.Lock = fwstore.NewRedisSweepLock(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		c.closers = append(c.closers, c.Lock.Close)
	}
	c.Escrow = fwengine.NewEscrowProvider(cfg.EscrowProvider, cfg.EscrowAPIBase)

	engineCfg := fwengine.Config{
		Store:   c.Store,
		Escrow:  c.Escrow,
		Objects: c.Objects,
		Jury:    fwengine.StaticJury(cfg.Jurors),
		Policy:  &c.Policy,
		Tracer:  c.Tracing.Tracer(),
		Logger:  log,
	}
	if c.Ledger != nil {
		engineCfg.Ledger = c.Ledger
	}
	if c.Engine, err = fwengine.NewEngine(engineCfg); err != nil {
		return c, err
	}

	var lock fwengine.Locker
	if c.Lock != nil {
		lock = c.Lock
	}
	c.Sweeper = fwengine.NewSweeper(c.Engine, cfg.SweepInterval, lock, log)
	c.Limiter = fwstore.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	c.Auth = middleware.NewAuthenticator(cfg.JWTSecret, cfg.AuthMode == "header")
	return c, nil
}

func (c *Container) initStore(ctx context.Context) error {
	if c.Config.StoreDriver != "postgres" {
		c.Store = fwstore.NewMemoryStore()
		return nil
	}
	pg, err := fwstore.NewPGStore(ctx, c.Config.PGDSN, c.Logger)
	if err != nil {
		return err
	}
	c.Store = pg
	c.closers = append(c.closers, func() error { pg.Close(); return nil })
	return nil
}

func (c *Container) initLedger(ctx context.Context) error {
	var dialect fwstore.Dialect
	dsn := c.Config.LedgerDSN
	switch c.Config.LedgerDriver {
	case "postgres":
		dialect = fwstore.DialectPostgres
		if dsn == "" {
			dsn = c.Config.PGDSN
		}
	case "sqlite":
		dialect = fwstore.DialectSQLite
		if dsn == "" {
			dsn = "fieldproof-ledger.db"
		}
	default:
		return nil
	}
	ledger, err := fwstore.OpenSQLLedger(ctx, dialect, dsn)
	if err != nil {
		return err
	}
	c.Ledger = ledger
	c.closers = append(c.closers, ledger.Close)
	return nil
}

func (c *Container) initObjects(ctx context.Context) error {
	if c.Config.StorageProvider == "s3" {
		s3p, err := objects.NewS3Provider(ctx, objects.S3Config{
			Bucket:   c.Config.S3Bucket,
			Region:   c.Config.S3Region,
			Endpoint: c.Config.S3Endpoint,
			Prefix:   c.Config.S3Prefix,
			Expiry:   15 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("s3 storage: %w", err)
		}
		c.Objects = s3p
		return nil
	}
	local, err := objects.NewLocalProvider(c.Config.StorageDir, c.Config.PublicBaseURL, objects.NewTokenStore(15*time.Minute, nil))
	if err != nil {
		return fmt.Errorf("local storage: %w", err)
	}
	c.Objects = local
	c.ObjectsFS = local
	return nil
}

// Run starts the background loops until ctx is done.
func (c *Container) Run(ctx context.Context) {
	go c.Sweeper.Run(ctx)
	go c.Limiter.Run(ctx)
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
