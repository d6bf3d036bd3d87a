// Package mediaindex maps a served directory tree onto the dense integer
// ObjectID space that DLNA's ContentDirectory service browses.
package mediaindex

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ObjectID identifies a browsable entity. RootID (0) always resolves to
// the served directory's root.
type ObjectID int64

// RootID is the reserved identifier for the served directory root.
const RootID ObjectID = 0

// NoParent is the ParentID reported for the root container's own metadata.
const NoParent ObjectID = -1

// Kind distinguishes a browsable container from a playable item.
type Kind int

const (
	KindContainer Kind = iota
	KindItem
)

// ErrNotFound is returned by Lookup and Stat for an ObjectID that was
// never assigned.
var ErrNotFound = errors.New("mediaindex: object not found")

// ErrNotContainer is returned by List when the ObjectID names an item.
var ErrNotContainer = errors.New("mediaindex: object is not a container")

// mimeEntry is one row of the MIME classification table.
type mimeEntry struct {
	mimeType  string
	upnpClass string
}

// mimeTable is the authoritative extension -> (MIME, upnp:class) mapping.
// Extensions not present here are hidden from browsing.
var mimeTable = map[string]mimeEntry{
	".mp4":   {"video/mp4", "object.item.videoItem"},
	".m4v":   {"video/mp4", "object.item.videoItem"},
	".mov":   {"video/mp4", "object.item.videoItem"},
	".mkv":   {"video/x-matroska", "object.item.videoItem"},
	".avi":   {"video/x-msvideo", "object.item.videoItem"},
	".webm":  {"video/webm", "object.item.videoItem"},
	".ts":    {"video/mp2t", "object.item.videoItem"},
	".m2ts":  {"video/mp2t", "object.item.videoItem"},
	".mp3":   {"audio/mpeg", "object.item.audioItem.musicTrack"},
	".flac":  {"audio/flac", "object.item.audioItem.musicTrack"},
	".wav":   {"audio/wav", "object.item.audioItem.musicTrack"},
	".aac":   {"audio/mp4", "object.item.audioItem.musicTrack"},
	".m4a":   {"audio/mp4", "object.item.audioItem.musicTrack"},
	".ogg":   {"audio/ogg", "object.item.audioItem.musicTrack"},
	".jpg":   {"image/jpeg", "object.item.imageItem.photo"},
	".jpeg":  {"image/jpeg", "object.item.imageItem.photo"},
	".png":   {"image/png", "object.item.imageItem.photo"},
	".gif":   {"image/gif", "object.item.imageItem.photo"},
}

// classifyExtension looks up the MIME/class pair for a filename by extension,
// case-insensitively. The second return value is false for unrecognised
// extensions, which must be hidden from browsing.
func classifyExtension(name string) (mimeEntry, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	e, ok := mimeTable[ext]
	return e, ok
}

// ContentObject is the unit traded between the Content Index and the
// DIDL-Lite encoder.
type ContentObject struct {
	ID           ObjectID
	ParentID     ObjectID
	Kind         Kind
	Title        string
	MimeType     string
	UPnPClass    string
	Size         int64
	LastModified time.Time
	ChildCount   int // containers only
}

// Index is the bijection between ObjectID and filesystem path under Root,
// plus container enumeration. The zero value is not usable; use New.
type Index struct {
	Root string

	mu       sync.RWMutex
	idToPath map[ObjectID]string
	pathToID map[string]ObjectID
	parentOf map[ObjectID]ObjectID
	nextID   ObjectID

	updateID atomic.Uint32
}

// New creates an Index rooted at root, with RootID already bound.
func New(root string) *Index {
	x := &Index{
		Root:     root,
		idToPath: map[ObjectID]string{RootID: ""},
		pathToID: map[string]ObjectID{"": RootID},
		parentOf: map[ObjectID]ObjectID{RootID: NoParent},
		nextID:   RootID + 1,
	}
	return x
}

// UpdateID returns the current monotonic ContentDirectory UpdateID.
// It is a conservative global counter bumped on every lazy directory
// re-read (see spec §4.2's Open Question (a)).
func (x *Index) UpdateID() uint32 {
	return x.updateID.Load()
}

// Lookup resolves id to a path relative to Root. The empty string denotes
// Root itself. The returned path remains valid for the process lifetime
// even if the underlying file has since disappeared.
func (x *Index) Lookup(id ObjectID) (string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.idToPath[id]
	if !ok {
		return "", ErrNotFound
	}
	return p, nil
}

// FullPath joins a relative path returned by Lookup onto Root.
func (x *Index) FullPath(relPath string) string {
	if relPath == "" {
		return x.Root
	}
	return filepath.Join(x.Root, relPath)
}

// idForPath returns the ObjectID for relPath, assigning a fresh one and
// recording the bijection if this is the first time it has been observed.
// Caller must hold x.mu for writing.
func (x *Index) idForPath(relPath string, parent ObjectID) ObjectID {
	if id, ok := x.pathToID[relPath]; ok {
		return id
	}
	id := x.nextID
	x.nextID++
	x.pathToID[relPath] = id
	x.idToPath[id] = relPath
	x.parentOf[id] = parent
	return id
}

// Stat resolves id to a ContentObject, re-reading the filesystem. It
// returns ErrNotFound both when the id was never assigned and when the
// underlying path has since vanished.
func (x *Index) Stat(id ObjectID) (ContentObject, error) {
	relPath, err := x.Lookup(id)
	if err != nil {
		return ContentObject{}, err
	}
	full := x.FullPath(relPath)
	info, err := os.Stat(full)
	if err != nil {
		return ContentObject{}, ErrNotFound
	}

	x.mu.RLock()
	parentID, known := x.parentOf[id]
	x.mu.RUnlock()
	if !known {
		parentID = NoParent
	}

	title := filepath.Base(relPath)
	if id == RootID {
		title = filepath.Base(x.Root)
	}

	if info.IsDir() {
		obj := ContentObject{
			ID:           id,
			ParentID:     parentID,
			Kind:         KindContainer,
			Title:        title,
			LastModified: info.ModTime(),
		}
		obj.ChildCount = x.countVisibleChildren(full)
		return obj, nil
	}

	entry, ok := classifyExtension(info.Name())
	if !ok {
		return ContentObject{}, ErrNotFound
	}
	return ContentObject{
		ID:           id,
		ParentID:     parentID,
		Kind:         KindItem,
		Title:        title,
		MimeType:     entry.mimeType,
		UPnPClass:    entry.upnpClass,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

func (x *Index) countVisibleChildren(dirPath string) int {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if isVisible(e) {
			n++
		}
	}
	return n
}

func isVisible(e fs.DirEntry) bool {
	name := e.Name()
	if strings.HasPrefix(name, ".") {
		return false
	}
	if e.IsDir() {
		return true
	}
	_, ok := classifyExtension(name)
	return ok
}

// sortableChild is an intermediate used only to determine browse order
// before ObjectIDs are assigned.
type sortableChild struct {
	entry   fs.DirEntry
	relPath string
	isDir   bool
}

// List returns up to limit children of id, skipping the first offset,
// along with the total visible child count ignoring the window. Children
// are ordered with containers first, then case-insensitive lexicographic
// by title; the order is stable across repeated calls absent filesystem
// changes. limit <= 0 means "no limit".
func (x *Index) List(id ObjectID, offset, limit int) (children []ContentObject, total int, err error) {
	relPath, err := x.Lookup(id)
	if err != nil {
		return nil, 0, err
	}
	full := x.FullPath(relPath)
	info, err := os.Stat(full)
	if err != nil {
		return nil, 0, ErrNotFound
	}
	if !info.IsDir() {
		return nil, 0, ErrNotContainer
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, 0, ErrNotFound
	}

	visible := make([]sortableChild, 0, len(entries))
	for _, e := range entries {
		if !isVisible(e) {
			continue
		}
		childRel := e.Name()
		if relPath != "" {
			childRel = filepath.Join(relPath, e.Name())
		}
		visible = append(visible, sortableChild{entry: e, relPath: childRel, isDir: e.IsDir()})
	}

	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		if a.isDir != b.isDir {
			return a.isDir // containers first
		}
		return strings.ToLower(a.entry.Name()) < strings.ToLower(b.entry.Name())
	})

	total = len(visible)

	x.mu.Lock()
	ids := make([]ObjectID, len(visible))
	for i, v := range visible {
		ids[i] = x.idForPath(v.relPath, id)
	}
	x.mu.Unlock()
	x.updateID.Add(1)

	start := offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]ContentObject, 0, end-start)
	for i := start; i < end; i++ {
		v := visible[i]
		childFull := x.FullPath(v.relPath)
		childInfo, statErr := os.Stat(childFull)
		if statErr != nil {
			continue
		}
		if v.isDir {
			out = append(out, ContentObject{
				ID:           ids[i],
				ParentID:     id,
				Kind:         KindContainer,
				Title:        v.entry.Name(),
				LastModified: childInfo.ModTime(),
				ChildCount:   x.countVisibleChildren(childFull),
			})
			continue
		}
		entry, ok := classifyExtension(v.entry.Name())
		if !ok {
			continue
		}
		out = append(out, ContentObject{
			ID:           ids[i],
			ParentID:     id,
			Kind:         KindItem,
			Title:        v.entry.Name(),
			MimeType:     entry.mimeType,
			UPnPClass:    entry.upnpClass,
			Size:         childInfo.Size(),
			LastModified: childInfo.ModTime(),
		})
	}
	return out, total, nil
}

// SafeOpenPath resolves id to a real, on-disk path and verifies that path
// lies within Root after symlink resolution, per the path-safety
// requirement in spec §4.1/§4.3. It rejects paths containing control
// characters.
func (x *Index) SafeOpenPath(id ObjectID) (string, os.FileInfo, error) {
	relPath, err := x.Lookup(id)
	if err != nil {
		return "", nil, ErrNotFound
	}
	for _, r := range relPath {
		if r < 0x20 {
			return "", nil, ErrNotFound
		}
	}
	full := x.FullPath(relPath)
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", nil, ErrNotFound
	}
	rootReal, err := filepath.EvalSymlinks(x.Root)
	if err != nil {
		rootReal = x.Root
	}
	rel, err := filepath.Rel(rootReal, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", nil, ErrNotFound
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", nil, ErrNotFound
	}
	return real, info, nil
}
