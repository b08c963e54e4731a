// Package reconcile builds the remote album tree, diffs it against the
// local tree and produces an ordered mutation plan.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/frostpix/frostpix/internal/photos"
	"github.com/frostpix/frostpix/internal/plan"
)

// RemoteLibrary enumerates the remote photo library.
type RemoteLibrary interface {
	ListAlbums(ctx context.Context) ([]photos.Album, error)
	ListAlbumAssets(ctx context.Context, albumID string, expectedMasters, expectedAssets int) (map[string]string, error)
	AlbumCounts(ctx context.Context, albumID string) (masters, assets int, err error)
}

// LocalLibrary loads the locally persisted album tree.
type LocalLibrary interface {
	LoadAlbums(ctx context.Context) ([]photos.Album, error)
}

// DefaultConcurrency bounds the per-album asset query fan-out.
const DefaultConcurrency = 4

// Engine drives one reconciliation pass.
type Engine struct {
	remote      RemoteLibrary
	local       LocalLibrary
	concurrency int
	logger      zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds how many per-album asset queries run at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an Engine.
func New(remote RemoteLibrary, local LocalLibrary, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		remote:      remote,
		local:       local,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run builds both trees and returns the ordered mutation plan.
func (e *Engine) Run(ctx context.Context) (*plan.Plan, error) {
	remote, err := e.BuildRemoteTree(ctx)
	if err != nil {
		return nil, err
	}

	local, err := e.local.LoadAlbums(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading local albums: %w", err)
	}

	return Diff(remote, local, e.logger)
}

// BuildRemoteTree enumerates all remote albums, appends the synthetic
// archive container, and populates each leaf album's asset map. Asset
// queries for independent albums run concurrently up to the configured
// bound; they are read-only and do not depend on one another.
func (e *Engine) BuildRemoteTree(ctx context.Context) ([]photos.Album, error) {
	albums, err := e.remote.ListAlbums(ctx)
	if err != nil {
		return nil, err
	}

	hasStash := false
	for _, a := range albums {
		if a.ID == photos.StashID {
			hasStash = true
			break
		}
	}
	if !hasStash {
		albums = append(albums, photos.NewStash())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range albums {
		if albums[i].Type != photos.TypeAlbum {
			continue
		}
		i := i
		g.Go(func() error {
			id := albums[i].ID
			masters, assetCount, err := e.remote.AlbumCounts(gctx, id)
			if err != nil {
				return err
			}
			assets, err := e.remote.ListAlbumAssets(gctx, id, masters, assetCount)
			if err != nil {
				return err
			}
			albums[i].Assets = assets
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug().Int("albums", len(albums)).Msg("remote tree built")
	return albums, nil
}

// Diff compares the remote tree against the local tree and emits the
// ordered plan: creates parents-first, then updates, then archival moves
// to the stash, then deletes children-first. Running the diff on two
// equal snapshots yields an empty plan.
func Diff(remote, local []photos.Album, logger zerolog.Logger) (*plan.Plan, error) {
	ridx := photos.BuildIndex(remote)
	lidx := photos.BuildIndex(local)

	skipped, err := invalidSubtrees(remote, ridx, logger)
	if err != nil {
		return nil, err
	}

	var creates, updates, stashes, deletes []plan.Operation

	for _, r := range remote {
		if skipped[r.ID] {
			continue
		}

		l, found := lidx[r.ID]
		if !found {
			a := r
			creates = append(creates, plan.Operation{Kind: plan.KindCreate, AlbumID: r.ID, Album: &a})
			continue
		}
		if l.Equal(r) {
			continue
		}

		desired := r
		if l.Type == photos.TypeArchived {
			// Archived albums keep their frozen membership and archived
			// type; only name and placement follow the remote side.
			desired = l
			desired.Name = r.Name
			desired.ParentID = r.ParentID
		}
		updates = append(updates, plan.Operation{Kind: plan.KindUpdate, AlbumID: r.ID, Album: &desired})
	}

	for _, l := range local {
		if _, found := ridx[l.ID]; found {
			continue
		}
		if l.ID == photos.StashID || photos.HasAncestor(l, photos.StashID, lidx) {
			// Stashed albums exist only locally; their absence from the
			// remote tree is the whole point.
			continue
		}
		if l.Type == photos.TypeArchived {
			moved := l
			moved.ParentID = photos.StashID
			stashes = append(stashes, plan.Operation{Kind: plan.KindStash, AlbumID: l.ID, Album: &moved})
			continue
		}
		deletes = append(deletes, plan.Operation{Kind: plan.KindDelete, AlbumID: l.ID})
	}

	if err := orderByDepth(creates, ridx, false); err != nil {
		return nil, err
	}
	sortByAlbumID(updates)
	sortByAlbumID(stashes)
	if err := orderByDepth(deletes, lidx, true); err != nil {
		return nil, err
	}

	p := &plan.Plan{}
	for _, ops := range [][]plan.Operation{creates, updates, stashes, deletes} {
		for _, op := range ops {
			p.Add(op.Kind, op.AlbumID, op.Album)
		}
	}
	return p, nil
}

// invalidSubtrees finds remote albums whose placement cannot be trusted:
// a cyclic parent chain, or a parent that is a descendant of the album
// itself. Those subtrees are skipped, aborting only their operations,
// not the whole run. A parent missing from the working set entirely is
// fatal: the model is internally contradictory.
func invalidSubtrees(remote []photos.Album, ridx photos.Index, logger zerolog.Logger) (map[string]bool, error) {
	roots := map[string]bool{}
	for _, r := range remote {
		if _, err := photos.DistanceToRoot(r, ridx); err != nil {
			if errors.Is(err, photos.ErrNoDistanceToRoot) {
				return nil, err
			}
			logger.Error().Err(err).Str("album", r.ID).Msg("skipping album with invalid hierarchy")
			roots[r.ID] = true
			continue
		}
		if r.ParentID != "" && photos.HasAncestor(ridx[r.ParentID], r.ID, ridx) {
			logger.Error().Str("album", r.ID).Msg("skipping album whose parent is its own descendant")
			roots[r.ID] = true
		}
	}
	if len(roots) == 0 {
		return roots, nil
	}

	// Descendants of a skipped album are skipped with it.
	skipped := map[string]bool{}
	for id := range roots {
		skipped[id] = true
	}
	for _, r := range remote {
		for id := range roots {
			if photos.HasAncestor(r, id, ridx) {
				skipped[r.ID] = true
			}
		}
	}
	return skipped, nil
}

// orderByDepth sorts operations by their album's distance to the root:
// shallowest first for creates so parents exist before children, deepest
// first for deletes so no delete orphans a still-referenced child.
func orderByDepth(ops []plan.Operation, idx photos.Index, deepestFirst bool) error {
	depths := make(map[string]int, len(ops))
	for _, op := range ops {
		d, err := photos.DistanceToRoot(idx[op.AlbumID], idx)
		if err != nil {
			return err
		}
		depths[op.AlbumID] = d
	}
	sort.SliceStable(ops, func(i, j int) bool {
		di, dj := depths[ops[i].AlbumID], depths[ops[j].AlbumID]
		if di != dj {
			if deepestFirst {
				return di > dj
			}
			return di < dj
		}
		return ops[i].AlbumID < ops[j].AlbumID
	})
	return nil
}

func sortByAlbumID(ops []plan.Operation) {
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].AlbumID < ops[j].AlbumID
	})
}
