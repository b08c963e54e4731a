// Package sync sequences a full reconciliation run: prepare the auth
// session, open the photo service, build and diff the trees, and return
// the mutation plan.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/frostpix/frostpix/internal/icloud"
	"github.com/frostpix/frostpix/internal/photos"
	"github.com/frostpix/frostpix/internal/plan"
	"github.com/frostpix/frostpix/internal/reconcile"
	"github.com/frostpix/frostpix/internal/retry"
)

// Session is the slice of the auth session the orchestrator needs. It
// also satisfies retry.Session so the retry controller can refresh it.
type Session interface {
	BecomeReady(ctx context.Context) error
	Photos(pageSize int, warn icloud.WarningFunc) (reconcile.RemoteLibrary, error)
	Refresh(ctx context.Context) error
	CookiesFresh(window time.Duration) bool
}

// icloudSession adapts *icloud.Session, whose Photos returns the
// concrete service type.
type icloudSession struct {
	*icloud.Session
}

func (s icloudSession) Photos(pageSize int, warn icloud.WarningFunc) (reconcile.RemoteLibrary, error) {
	return s.Session.Photos(pageSize, warn)
}

// AdaptSession wraps an icloud session for use as an orchestrator Session.
func AdaptSession(s *icloud.Session) Session {
	return icloudSession{s}
}

// Orchestrator runs one sync pass end to end.
type Orchestrator struct {
	session     Session
	local       reconcile.LocalLibrary
	retrier     *retry.Controller
	pageSize    int
	concurrency int
	warn        icloud.WarningFunc
	retryOpts   []retry.Option
	logger      zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPageSize sets the record-query page size.
func WithPageSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithConcurrency bounds the per-album asset query fan-out.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithWarn sets the warning callback. By default warnings are logged.
func WithWarn(fn icloud.WarningFunc) Option {
	return func(o *Orchestrator) {
		o.warn = fn
	}
}

// WithRetryOptions passes options through to the retry controller.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *Orchestrator) {
		o.retryOpts = opts
	}
}

// New creates an Orchestrator.
func New(session Session, local reconcile.LocalLibrary, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session:     session,
		local:       local,
		pageSize:    icloud.DefaultPageSize,
		concurrency: reconcile.DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.warn == nil {
		o.warn = func(w icloud.Warning) {
			logger.Warn().Str("kind", string(w.Kind)).Msg(w.Message)
		}
	}
	o.retrier = retry.New(session, logger, o.retryOpts...)
	return o
}

// Result is the outcome of one sync pass.
type Result struct {
	Plan     *plan.Plan
	SyncedAt time.Time
}

// Run performs one full pass and returns the ordered mutation plan.
// The plan is not applied here.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if err := o.session.BecomeReady(ctx); err != nil {
		return nil, fmt.Errorf("preparing session: %w", err)
	}

	remote, err := o.session.Photos(o.pageSize, o.warn)
	if err != nil {
		return nil, fmt.Errorf("opening photo service: %w", err)
	}

	lib := &retryingLibrary{remote: remote, retrier: o.retrier}
	engine := reconcile.New(lib, o.local, o.logger, reconcile.WithConcurrency(o.concurrency))

	p, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}

	counts := p.Counts()
	o.logger.Info().
		Int("creates", counts[plan.KindCreate]).
		Int("updates", counts[plan.KindUpdate]).
		Int("stashes", counts[plan.KindStash]).
		Int("deletes", counts[plan.KindDelete]).
		Msg("sync pass complete")

	return &Result{Plan: p, SyncedAt: time.Now()}, nil
}

// retryingLibrary wraps every remote call in the retry controller so a
// mid-sweep session expiry reruns the whole operation on a fresh session.
type retryingLibrary struct {
	remote  reconcile.RemoteLibrary
	retrier *retry.Controller
}

func (l *retryingLibrary) ListAlbums(ctx context.Context) ([]photos.Album, error) {
	var albums []photos.Album
	err := l.retrier.Do(ctx, "list albums", func(ctx context.Context) error {
		var err error
		albums, err = l.remote.ListAlbums(ctx)
		return err
	})
	return albums, err
}

func (l *retryingLibrary) ListAlbumAssets(ctx context.Context, albumID string, expectedMasters, expectedAssets int) (map[string]string, error) {
	var assets map[string]string
	err := l.retrier.Do(ctx, "list album assets", func(ctx context.Context) error {
		var err error
		assets, err = l.remote.ListAlbumAssets(ctx, albumID, expectedMasters, expectedAssets)
		return err
	})
	return assets, err
}

func (l *retryingLibrary) AlbumCounts(ctx context.Context, albumID string) (masters, assets int, err error) {
	err = l.retrier.Do(ctx, "album counts", func(ctx context.Context) error {
		var err error
		masters, assets, err = l.remote.AlbumCounts(ctx, albumID)
		return err
	})
	return masters, assets, err
}
