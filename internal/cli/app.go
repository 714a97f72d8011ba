package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/journal/internal/anon"
	"github.com/mesh-intelligence/journal/internal/appstate"
	"github.com/mesh-intelligence/journal/internal/journal"
	"github.com/mesh-intelligence/journal/internal/keystore"
	"github.com/mesh-intelligence/journal/internal/logging"
	"github.com/mesh-intelligence/journal/internal/observability"
	"github.com/mesh-intelligence/journal/internal/paths"
	"github.com/mesh-intelligence/journal/internal/remote"
	"github.com/mesh-intelligence/journal/internal/sqlite"
	"github.com/mesh-intelligence/journal/internal/syncqueue"
)

// setup resolves directories, loads configuration and starts logging and
// tracing. The store is opened lazily by open.
func (a *app) setup(ctx context.Context) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	cfg, err := buildConfig(v, dataDir)
	if err != nil {
		return err
	}

	logFile := v.GetString(cfgKeyLogFile)
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(dataDir, logFile)
	}
	log, err := logging.New(logging.Options{Level: v.GetString(cfgKeyLogLevel), File: logFile})
	if err != nil {
		return userErrorf("invalid log config: %w", err)
	}
	stop, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		Mode:    v.GetString(cfgKeyTracing),
		Version: Version,
		Writer:  os.Stderr,
	})
	if err != nil {
		return userErrorf("invalid tracing config: %w", err)
	}

	a.v, a.configDir, a.dataDir, a.cfg, a.log, a.stopTracing = v, configDir, dataDir, cfg, log, stop
	return nil
}

// open attaches the store and loads the keystore and lock state.
func (a *app) open(ctx context.Context) error {
	if a.backend != nil {
		return nil
	}
	ks, err := keystore.Open(a.cfg.GetKeystore(), a.configDir)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	state, err := appstate.Load(ctx, ks)
	if err != nil {
		return err
	}
	backend := sqlite.NewBackend(sqlite.WithLogger(a.log))
	if err := backend.Attach(a.cfg); err != nil {
		return fmt.Errorf("attach store: %w", err)
	}
	a.backend, a.ks, a.state = backend, ks, state
	return nil
}

// close releases everything setup and open acquired. Safe to call twice.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Detach())
		a.backend = nil
	}
	if a.stopTracing != nil {
		errs = append(errs, a.stopTracing(ctx))
		a.stopTracing = nil
	}
	if a.log != nil {
		a.log.Sync()
	}
	return errors.Join(errs...)
}

// service opens the store and returns the journal service over it.
func (a *app) service(ctx context.Context) (*journal.Service, error) {
	if err := a.open(ctx); err != nil {
		return nil, err
	}
	return journal.NewService(a.backend, anon.New(a.ks), a.state,
		journal.WithLogger(a.log),
		journal.WithAllowedHosts(a.cfg.GetAllowedHosts()),
	), nil
}

// unlock prompts for the PIN when the journal is locked.
func (a *app) unlock(ctx context.Context, w io.Writer) error {
	if a.state.IsUnlocked() {
		return nil
	}
	pin, err := a.readPIN(w, "PIN: ")
	if err != nil {
		return err
	}
	return a.state.Unlock(ctx, pin)
}

// writableService is service followed by unlock, for commands that write.
func (a *app) writableService(ctx context.Context, w io.Writer) (*journal.Service, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.unlock(ctx, w); err != nil {
		return nil, err
	}
	return svc, nil
}

// processor opens the store and builds a sync processor. Delivery needs a
// configured endpoint; status and retry do not.
func (a *app) processor(ctx context.Context, deliver bool) (*syncqueue.Processor, error) {
	if err := a.open(ctx); err != nil {
		return nil, err
	}
	var r syncqueue.Remote
	if deliver {
		client, err := remote.New(a.log, remote.Config{
			Endpoint:  a.cfg.Sync.Endpoint,
			Timeout:   a.cfg.Sync.GetRequestTimeout(),
			UserAgent: "journal/" + Version,
		})
		if err != nil {
			return nil, &userError{err: err}
		}
		r = client
	}
	return syncqueue.NewProcessor(a.backend, r, a.cfg.Sync, syncqueue.WithLogger(a.log)), nil
}
