// Package photos models the photo-library album hierarchy shared by the
// remote enumeration and local reconciliation layers.
package photos

import "strings"

// AlbumType is the kind of a library container. The numeric values of
// TypeAlbum and TypeFolder match the type codes the remote service uses
// in its album records; TypeArchived exists only locally.
type AlbumType int

const (
	// TypeAlbum is a leaf album holding assets.
	TypeAlbum AlbumType = 0

	// TypeFolder is a container for other albums and folders.
	TypeFolder AlbumType = 3

	// TypeArchived marks a local-only album whose asset membership is
	// frozen: it is exempt from remote asset reconciliation but still
	// participates in hierarchy placement.
	TypeArchived AlbumType = 99
)

// String returns a short human-readable name for the album type.
func (t AlbumType) String() string {
	switch t {
	case TypeAlbum:
		return "album"
	case TypeFolder:
		return "folder"
	case TypeArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// StashID is the identifier of the synthetic archive container. Albums
// that were archived locally and later disappeared from the remote
// library are moved under it instead of being deleted.
const StashID = "----stash----"

// StashName is the display name of the synthetic archive container.
const StashName = "_Archive"

// Album is a single node of the library tree. A ParentID of "" means the
// album sits directly under the synthetic root.
type Album struct {
	ID       string    `json:"id"`
	Type     AlbumType `json:"type"`
	Name     string    `json:"name"`
	ParentID string    `json:"parentId,omitempty"`

	// Assets maps an asset's stable record identifier to the filename
	// the asset is presented as. Insertion order is irrelevant.
	Assets map[string]string `json:"assets,omitempty"`
}

// NewStash returns the synthetic archive container album.
func NewStash() Album {
	return Album{
		ID:     StashID,
		Type:   TypeFolder,
		Name:   StashName,
		Assets: map[string]string{},
	}
}

// SanitizedName returns the album name with path separators replaced, so
// the name is safe to use as a single on-disk path component.
func (a Album) SanitizedName() string {
	return strings.ReplaceAll(a.Name, "/", "_")
}

// Equal reports whether two albums are the same for diffing purposes:
// identifier, sanitized name and parent must match. If either side is
// archived, type and asset membership are ignored (archived albums
// intentionally diverge from their remote counterpart); otherwise the
// types must match and the asset identifier sets must be equal,
// independent of order and of the presented filenames.
func (a Album) Equal(b Album) bool {
	if a.ID != b.ID || a.SanitizedName() != b.SanitizedName() || a.ParentID != b.ParentID {
		return false
	}
	if a.Type == TypeArchived || b.Type == TypeArchived {
		return true
	}
	if a.Type != b.Type {
		return false
	}
	return sameAssetIDs(a.Assets, b.Assets)
}

// sameAssetIDs compares the key sets of two asset maps.
func sameAssetIDs(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
