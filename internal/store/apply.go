package store

import (
	"context"
	"fmt"

	"github.com/frostpix/frostpix/internal/plan"
)

// ApplyPlan executes the plan's operations in order inside a single
// transaction. The plan's ordering is its contract: parents are created
// before children and children deleted before parents, so operations
// are never reordered here.
func (s *Store) ApplyPlan(ctx context.Context, p *plan.Plan) error {
	if p.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	albums := s.Albums()
	for _, op := range p.Operations {
		switch op.Kind {
		case plan.KindCreate, plan.KindUpdate:
			if op.Album == nil {
				return fmt.Errorf("operation %s on %s has no album payload", op.Kind, op.AlbumID)
			}
			if err := albums.upsert(ctx, tx, *op.Album); err != nil {
				return err
			}
		case plan.KindStash:
			if op.Album == nil {
				return fmt.Errorf("stash operation on %s has no album payload", op.AlbumID)
			}
			if err := albums.setParent(ctx, tx, op.AlbumID, op.Album.ParentID); err != nil {
				return err
			}
		case plan.KindDelete:
			if err := albums.delete(ctx, tx, op.AlbumID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing plan: %w", err)
	}
	return nil
}
