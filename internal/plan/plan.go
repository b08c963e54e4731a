// Package plan defines the ordered mutation plan a reconciliation run
// produces and the apply step consumes.
package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/frostpix/frostpix/internal/photos"
)

// Kind is the type of a single mutation.
type Kind string

const (
	// KindCreate adds an album to the local tree. Creates are ordered
	// parents before children.
	KindCreate Kind = "create"

	// KindUpdate replaces an album's recorded state: membership, type,
	// name or placement.
	KindUpdate Kind = "update"

	// KindStash moves a locally archived album under the archive
	// container because its remote counterpart disappeared.
	KindStash Kind = "stash"

	// KindDelete removes an album. Deletes are ordered children before
	// parents.
	KindDelete Kind = "delete"
)

// Operation is a single mutation against the local library tree.
type Operation struct {
	ID      uuid.UUID     `json:"id"`
	Kind    Kind          `json:"kind"`
	AlbumID string        `json:"albumId"`
	Album   *photos.Album `json:"album,omitempty"` // desired state for create/update/stash
}

// Plan is an ordered series of operations. Order is the plan's contract:
// appliers must execute operations front to back.
type Plan struct {
	Operations []Operation `json:"operations"`
}

// Empty reports whether the plan contains no operations.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}

// Add appends an operation with a fresh identifier.
func (p *Plan) Add(kind Kind, albumID string, album *photos.Album) {
	p.Operations = append(p.Operations, Operation{
		ID:      uuid.New(),
		Kind:    kind,
		AlbumID: albumID,
		Album:   album,
	})
}

// Counts returns the number of operations per kind.
func (p *Plan) Counts() map[Kind]int {
	counts := map[Kind]int{}
	for _, op := range p.Operations {
		counts[op.Kind]++
	}
	return counts
}

// Save writes the plan to a file.
func (p *Plan) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating plan file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(p); err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	return nil
}

// Load reads a plan from a file.
func Load(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plan file: %w", err)
	}
	defer f.Close()

	return LoadFromReader(f)
}

// LoadFromReader reads a plan from an io.Reader.
func LoadFromReader(r io.Reader) (*Plan, error) {
	var p Plan
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	return &p, nil
}
