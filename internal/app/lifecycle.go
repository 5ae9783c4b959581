package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunOptions configure Run.
type RunOptions struct {
	// Watch hot-reloads plugins whose package changes on disk.
	Watch bool

	// Ready runs once the profile is loaded. An error ends Run.
	Ready func(ctx context.Context) error
}

// Start loads the plugins of profileID. The first call also subscribes
// the host to association and library changes; its ctx bounds the plugin
// calls made on behalf of those changes.
func (a *Application) Start(ctx context.Context, profileID string) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.attach.Do(func() { a.host.Attach(ctx) })
	err := a.host.LoadPluginsForProfile(ctx, profileID)
	a.log.Info().
		Str("profile", profileID).
		Int("loaded", len(a.host.Plugins())).
		Int("failed", len(a.host.Failures())).
		Msg("Profile active")
	return err
}

// Run starts profileID and blocks until ctx is done, then unloads every
// plugin. Plugin load failures are logged, not returned.
func (a *Application) Run(ctx context.Context, profileID string, opts RunOptions) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	if err := a.Start(ctx, profileID); err != nil && ctx.Err() == nil {
		a.log.Warn().Err(err).Msg("Some plugins failed to load")
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Ready != nil {
		g.Go(func() error { return opts.Ready(gctx) })
	}
	if opts.Watch || a.cfg.Watch.Enabled {
		g.Go(func() error {
			return a.library.Watch(gctx, a.cfg.Watch.Debounce.Std())
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	if err := a.host.UnloadAllPlugins(context.WithoutCancel(ctx)); err != nil {
		a.log.Warn().Err(err).Msg("Plugins reported unload failures")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}

// Stop ends a running Run.
func (a *Application) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops the application, unloads any plugins and closes the log
// file. It is safe to call more than once.
func (a *Application) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.Stop()
	err := a.host.UnloadAllPlugins(context.Background())
	return errors.Join(err, a.logger.Close())
}
