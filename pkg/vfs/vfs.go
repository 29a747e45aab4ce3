// Package vfs is the in-memory file system compiled programs see through
// the host file bindings. It enforces a disk quota and a restrictive path
// syntax; nothing in it ever touches the real file system.
package vfs

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// MaxDiskBytes is the disk quota in bytes (4MB).
const MaxDiskBytes = 4 * 1024 * 1024

// validSegment is the regex each path component must match.
var validSegment = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.\-]{0,31}$`)

var (
	ErrNotFound     = errors.New("file not found")
	ErrInvalidPath  = errors.New("invalid path")
	ErrQuotaExceeded = errors.New("disk quota exceeded")
	ErrExists       = errors.New("file already exists")
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrDirNotEmpty  = errors.New("directory not empty")
)

// FileEntry holds one file's contents and timestamps.
type FileEntry struct {
	Data     []byte
	Created  time.Time
	Modified time.Time
}

// Info is the result of a Stat or List call.
type Info struct {
	Name     string
	Size     int
	IsDir    bool
	Modified time.Time
}

// Disk is an in-memory file system with flat storage and explicit
// directory entries. All methods are safe for concurrent use.
type Disk struct {
	mu    sync.RWMutex
	files map[string]*FileEntry
	dirs  map[string]time.Time
	used  int
}

// NewDisk creates an empty disk containing only the root directory.
func NewDisk() *Disk {
	return &Disk{
		files: make(map[string]*FileEntry),
		dirs:  make(map[string]time.Time),
	}
}

// validPath checks every segment of a slash-separated path.
func validPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if !validSegment.MatchString(seg) {
			return false
		}
	}
	return true
}

// parentOK reports whether the directory containing path exists.
func (d *Disk) parentOK(path string) bool {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return true
	}
	_, ok := d.dirs[path[:i]]
	return ok
}

// WriteFile replaces the whole contents of a file, creating it if needed.
func (d *Disk) WriteFile(path string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !validPath(path) {
		return ErrInvalidPath
	}
	if _, isDir := d.dirs[path]; isDir {
		return ErrIsDirectory
	}
	if !d.parentOK(path) {
		return ErrNotFound
	}

	oldSize := 0
	entry := d.files[path]
	if entry != nil {
		oldSize = len(entry.Data)
	}
	if d.used-oldSize+len(data) > MaxDiskBytes {
		return ErrQuotaExceeded
	}

	// deep copy so callers cannot mutate stored contents
	buf := make([]byte, len(data))
	copy(buf, data)

	if entry == nil {
		entry = &FileEntry{Created: time.Now()}
		d.files[path] = entry
	}
	entry.Data = buf
	entry.Modified = time.Now()
	d.used = d.used - oldSize + len(buf)
	return nil
}

// ReadFile returns a copy of the whole file.
func (d *Disk) ReadFile(path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, err := d.lookup(path)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(entry.Data))
	copy(out, entry.Data)
	return out, nil
}

// ReadAt copies up to n bytes starting at off into a fresh buffer. Reading
// at or past the end returns an empty slice, not an error.
func (d *Disk) ReadAt(path string, off, n int) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, err := d.lookup(path)
	if err != nil {
		return nil, err
	}
	if off < 0 || off >= len(entry.Data) || n <= 0 {
		return nil, nil
	}
	end := off + n
	if end > len(entry.Data) {
		end = len(entry.Data)
	}
	out := make([]byte, end-off)
	copy(out, entry.Data[off:end])
	return out, nil
}

// WriteAt writes data at off, extending the file with zeroes if off is past
// the current end. The file must already exist.
func (d *Disk) WriteAt(path string, off int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, err := d.lookup(path)
	if err != nil {
		return err
	}
	if off < 0 {
		return ErrInvalidPath
	}
	end := off + len(data)
	grow := 0
	if end > len(entry.Data) {
		grow = end - len(entry.Data)
	}
	if d.used+grow > MaxDiskBytes {
		return ErrQuotaExceeded
	}
	if grow > 0 {
		entry.Data = append(entry.Data, make([]byte, grow)...)
		d.used += grow
	}
	copy(entry.Data[off:], data)
	entry.Modified = time.Now()
	return nil
}

// Create makes an empty file. It fails if anything already exists at path.
func (d *Disk) Create(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !validPath(path) {
		return ErrInvalidPath
	}
	if _, ok := d.files[path]; ok {
		return ErrExists
	}
	if _, ok := d.dirs[path]; ok {
		return ErrExists
	}
	if !d.parentOK(path) {
		return ErrNotFound
	}
	now := time.Now()
	d.files[path] = &FileEntry{Created: now, Modified: now}
	return nil
}

// Stat describes a file or directory.
func (d *Disk) Stat(path string) (Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !validPath(path) {
		return Info{}, ErrInvalidPath
	}
	if mod, ok := d.dirs[path]; ok {
		return Info{Name: baseName(path), IsDir: true, Modified: mod}, nil
	}
	if entry, ok := d.files[path]; ok {
		return Info{Name: baseName(path), Size: len(entry.Data), Modified: entry.Modified}, nil
	}
	return Info{}, ErrNotFound
}

// Mkdir creates a directory. Parents must already exist.
func (d *Disk) Mkdir(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !validPath(path) {
		return ErrInvalidPath
	}
	if _, ok := d.dirs[path]; ok {
		return ErrExists
	}
	if _, ok := d.files[path]; ok {
		return ErrExists
	}
	if !d.parentOK(path) {
		return ErrNotFound
	}
	d.dirs[path] = time.Now()
	return nil
}

// List returns the immediate children of a directory, sorted by name. The
// empty string lists the root.
func (d *Disk) List(dir string) ([]Info, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if dir != "" {
		if !validPath(dir) {
			return nil, ErrInvalidPath
		}
		if _, ok := d.dirs[dir]; !ok {
			if _, isFile := d.files[dir]; isFile {
				return nil, ErrNotDirectory
			}
			return nil, ErrNotFound
		}
	}

	var out []Info
	for path, mod := range d.dirs {
		if dirOf(path) == dir {
			out = append(out, Info{Name: baseName(path), IsDir: true, Modified: mod})
		}
	}
	for path, entry := range d.files {
		if dirOf(path) == dir {
			out = append(out, Info{Name: baseName(path), Size: len(entry.Data), Modified: entry.Modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes a file or an empty directory.
func (d *Disk) Remove(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !validPath(path) {
		return ErrInvalidPath
	}
	if entry, ok := d.files[path]; ok {
		d.used -= len(entry.Data)
		delete(d.files, path)
		return nil
	}
	if _, ok := d.dirs[path]; ok {
		prefix := path + "/"
		for p := range d.files {
			if strings.HasPrefix(p, prefix) {
				return ErrDirNotEmpty
			}
		}
		for p := range d.dirs {
			if strings.HasPrefix(p, prefix) {
				return ErrDirNotEmpty
			}
		}
		delete(d.dirs, path)
		return nil
	}
	return ErrNotFound
}

// Rename moves a file to a new path within the disk.
func (d *Disk) Rename(oldPath, newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !validPath(oldPath) || !validPath(newPath) {
		return ErrInvalidPath
	}
	entry, ok := d.files[oldPath]
	if !ok {
		if _, isDir := d.dirs[oldPath]; isDir {
			return ErrIsDirectory
		}
		return ErrNotFound
	}
	if _, ok := d.files[newPath]; ok {
		return ErrExists
	}
	if _, ok := d.dirs[newPath]; ok {
		return ErrExists
	}
	if !d.parentOK(newPath) {
		return ErrNotFound
	}
	delete(d.files, oldPath)
	d.files[newPath] = entry
	entry.Modified = time.Now()
	return nil
}

// Used returns the number of quota bytes in use.
func (d *Disk) Used() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.used
}

// Free returns the remaining quota.
func (d *Disk) Free() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return MaxDiskBytes - d.used
}

func (d *Disk) lookup(path string) (*FileEntry, error) {
	if !validPath(path) {
		return nil, ErrInvalidPath
	}
	if _, ok := d.dirs[path]; ok {
		return nil, ErrIsDirectory
	}
	entry, ok := d.files[path]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}
