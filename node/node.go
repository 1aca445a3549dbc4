// Package node assembles and runs an overlay node.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/overlaydex/go-overlay/config"
	"github.com/overlaydex/go-overlay/database"
	"github.com/overlaydex/go-overlay/datastore"
	"github.com/overlaydex/go-overlay/invsync"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/metrics"
	"github.com/overlaydex/go-overlay/p2p"
)

const (
	storeDirName = "store"
	lockFileName = "overlay.lock"
)

// Option to modify an App instance.
type Option func(app *App)

// WithLog enables logger for an App.
func WithLog(logger *zap.Logger) Option {
	return func(app *App) {
		app.log = logger
	}
}

// WithConfig overwrites default App config.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

// New creates an instance of the overlay app.
func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config: &defaultConfig,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// App is the overlay node.
type App struct {
	Config *config.Config
	log    *zap.Logger

	fileLock *flock.Flock

	db    *database.LDBDatabase
	store *datastore.Store
	host  *p2p.Host
	sync  *invsync.Service

	eg errgroup.Group
}

func (app *App) addLogger(module string) *zap.Logger {
	logger, err := app.Config.LOGGING.NewLogger(module)
	if err != nil {
		app.log.Warn("failed to create module logger, using app logger",
			zap.String("module", module),
			zap.Error(err),
		)
		return app.log.Named(module)
	}
	return logger
}

// Lock locks the data directory for exclusive use. It returns an error if
// another node is already running with the same directory.
func (app *App) Lock() error {
	dir := app.Config.DataDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating dir %s for lock: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", fl.Path(), err)
	} else if !locked {
		return fmt.Errorf("only one overlay node should be running (locking file %s)", fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the data directory. It is a no-op if the app is not locked.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.log.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
	app.fileLock = nil
}

// OpenStore opens the data store in the node data directory.
func OpenStore(conf *config.Config, dbLogger, storeLogger *zap.Logger) (*database.LDBDatabase, *datastore.Store, error) {
	dir := filepath.Join(conf.DataDir(), storeDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	db, err := database.NewLDBDatabase(dir, conf.Store.DBCache, conf.Store.DBHandles, dbLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	store := datastore.New(db,
		datastore.WithLogger(storeLogger),
		datastore.WithCacheSize(conf.Store.CacheSize),
	)
	return db, store, nil
}

// Initialize validates the config and sets up all services.
func (app *App) Initialize(ctx context.Context) error {
	if err := app.Config.Validate(); err != nil {
		return err
	}
	features, err := app.Config.InvSync.Features()
	if err != nil {
		return err
	}
	app.db, app.store, err = OpenStore(app.Config,
		app.addLogger(config.DatabaseLogger),
		app.addLogger(config.StoreLogger),
	)
	if err != nil {
		return err
	}
	p2pCfg := app.Config.P2P
	p2pCfg.DataDir = app.Config.DataDir()
	app.host, err = p2p.New(ctx, app.addLogger(config.P2PLogger), p2pCfg,
		p2p.WithFeatures(features...),
		p2p.WithDecoder(types.DecodeMessage),
	)
	if err != nil {
		return fmt.Errorf("start p2p host: %w", err)
	}
	app.sync, err = invsync.New(app.addLogger(config.InvSyncLogger), app.host, app.host, app.store, app.Config.InvSync)
	if err != nil {
		return fmt.Errorf("create inventory sync: %w", err)
	}
	return nil
}

// Start runs the node until ctx is canceled.
func (app *App) Start(ctx context.Context) error {
	app.log.Info("overlay node is starting",
		zap.String("data_dir", app.Config.DataDir()),
		zap.String("network_id", app.Config.P2P.NetworkID),
	)
	if diff := app.Config.Diff(); diff != "" {
		app.log.Debug("configuration differs from defaults", zap.String("diff", diff))
	}
	if app.Config.CollectMetrics {
		app.eg.Go(func() error {
			return metrics.Serve(ctx, app.log.Named("metrics"), app.Config.MetricsPort)
		})
	}
	if app.Config.MetricsPush != "" {
		metrics.StartPushingMetrics(ctx, app.log.Named("metrics"),
			app.Config.MetricsPush, app.Config.MetricsPushPeriod,
			app.host.ID().String(), app.Config.P2P.NetworkID)
	}
	app.sync.Start(ctx)
	app.host.Start()
	for _, addr := range app.host.Addrs() {
		app.log.Info("listening", zap.Stringer("address", addr), zap.Stringer("identity", app.host.ID()))
	}
	app.eg.Go(func() error {
		app.report(ctx, time.Minute)
		return nil
	})
	<-ctx.Done()
	return app.eg.Wait()
}

func (app *App) report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := app.store.Count()
			if err != nil {
				app.log.Warn("failed to count stored items", zap.Error(err))
			}
			app.log.Info("node status",
				zap.Stringer("phase", app.sync.Phase()),
				zap.Bool("synced", app.sync.Synced()),
				zap.Int("peers", len(app.host.Connections())),
				zap.Int("items", count),
			)
		}
	}
}

// Cleanup stops all services and closes the database.
func (app *App) Cleanup() error {
	var errs []error
	if app.sync != nil {
		app.sync.Stop()
	}
	if app.host != nil {
		if err := app.host.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	app.log.Info("overlay node stopped")
	return errors.Join(errs...)
}
