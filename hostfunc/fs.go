package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read and write operations to existing files/dirs.
	MountReadWrite
	// MountReadWriteCreate allows read, write, and create operations.
	MountReadWriteCreate
)

func (m MountMode) String() string {
	switch m {
	case MountReadOnly:
		return "ro"
	case MountReadWrite:
		return "rw"
	case MountReadWriteCreate:
		return "rwc"
	default:
		return fmt.Sprintf("MountMode(%d)", int(m))
	}
}

// Mount represents a virtual path mapped to a host path with specific permissions.
type Mount struct {
	VirtualPath string    // Path as seen by lesson code (e.g., "/data")
	HostPath    string    // Actual path on host filesystem
	Mode        MountMode // Permission level
}

const (
	DefaultMaxFileSize   = 10 << 20
	DefaultMaxWriteSize  = 10 << 20
	DefaultMaxPathLength = 4096
)

var (
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("file not found")
	ErrTooLarge   = errors.New("size limit exceeded")
)

type FSOption func(*FS)

func WithMaxFileSize(n int64) FSOption {
	return func(f *FS) { f.maxFileSize = n }
}

func WithMaxWriteSize(n int64) FSOption {
	return func(f *FS) { f.maxWriteSize = n }
}

func WithMaxPathLength(n int) FSOption {
	return func(f *FS) { f.maxPathLength = n }
}

// FS provides filesystem operations scoped to explicit mount points. Paths
// are virtual: "data/x.csv", "./data/x.csv" and "/data/x.csv" all refer to
// the same file.
type FS struct {
	mounts        []Mount
	maxFileSize   int64
	maxWriteSize  int64
	maxPathLength int
	mu            sync.RWMutex
}

// NewFS creates a filesystem handler with the given mount points.
func NewFS(mounts []Mount, opts ...FSOption) *FS {
	f := &FS{
		maxFileSize:   DefaultMaxFileSize,
		maxWriteSize:  DefaultMaxWriteSize,
		maxPathLength: DefaultMaxPathLength,
	}
	for _, m := range mounts {
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		f.mounts = append(f.mounts, Mount{
			VirtualPath: cleanVirtual(m.VirtualPath),
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Mounts returns the normalized mount table.
func (f *FS) Mounts() []Mount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Mount(nil), f.mounts...)
}

func cleanVirtual(p string) string {
	if p == "." {
		p = ""
	}
	p = strings.TrimPrefix(p, "./")
	return path.Clean("/" + strings.TrimPrefix(p, "/"))
}

// resolve maps a virtual path to its host path and mount.
func (f *FS) resolve(virtualPath string, needWrite bool) (string, *Mount, error) {
	if f.maxPathLength > 0 && len(virtualPath) > f.maxPathLength {
		return "", nil, fmt.Errorf("path exceeds max length")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	vp := cleanVirtual(virtualPath)

	for i := range f.mounts {
		m := &f.mounts[i]
		if vp != m.VirtualPath && m.VirtualPath != "/" && !strings.HasPrefix(vp, m.VirtualPath+"/") {
			continue
		}
		if needWrite && m.Mode == MountReadOnly {
			return "", nil, fmt.Errorf("%w: read-only mount", ErrPermission)
		}

		rel := strings.TrimPrefix(vp, m.VirtualPath)
		hostPath := filepath.Join(m.HostPath, filepath.FromSlash(rel))

		if hostPath != m.HostPath && !strings.HasPrefix(hostPath, m.HostPath+string(filepath.Separator)) {
			return "", nil, fmt.Errorf("%w: path escape attempt", ErrPermission)
		}
		return hostPath, m, nil
	}

	return "", nil, fmt.Errorf("%w: path not in any mount", ErrPermission)
}

// ReadFile returns the contents of a file.
func (f *FS) ReadFile(virtualPath string) (string, error) {
	hostPath, _, err := f.resolve(virtualPath, false)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, virtualPath)
		}
		return "", fmt.Errorf("read error: %w", err)
	}
	if f.maxFileSize > 0 && info.Size() > f.maxFileSize {
		return "", fmt.Errorf("%w: %s", ErrTooLarge, virtualPath)
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	return string(data), nil
}

// WriteFile writes content to a file, creating it when the mount allows.
func (f *FS) WriteFile(virtualPath, content string) error {
	if f.maxWriteSize > 0 && int64(len(content)) > f.maxWriteSize {
		return fmt.Errorf("%w: %s", ErrTooLarge, virtualPath)
	}

	hostPath, mount, err := f.resolve(virtualPath, true)
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(hostPath); os.IsNotExist(statErr) && mount.Mode != MountReadWriteCreate {
		return fmt.Errorf("%w: cannot create new files", ErrPermission)
	}

	if err := os.WriteFile(hostPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}

// MkdirAll creates a directory and any missing parents. It is a no-op when
// the directory already exists.
func (f *FS) MkdirAll(virtualPath string) error {
	hostPath, mount, err := f.resolve(virtualPath, true)
	if err != nil {
		return err
	}
	if info, err := os.Stat(hostPath); err == nil && info.IsDir() {
		return nil
	}
	if mount.Mode != MountReadWriteCreate {
		return fmt.Errorf("%w: cannot create directories", ErrPermission)
	}
	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return fmt.Errorf("mkdir error: %w", err)
	}
	return nil
}

// Read returns the contents of a file.
func (f *FS) Read(ctx context.Context, args map[string]any) (any, error) {
	p, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("path required")
	}
	return f.ReadFile(p)
}

// Write writes content to a file.
func (f *FS) Write(ctx context.Context, args map[string]any) (any, error) {
	p, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("path required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, errors.New("content required")
	}
	if err := f.WriteFile(p, content); err != nil {
		return nil, err
	}
	return "ok", nil
}

// ListDir returns the entries of a directory.
func (f *FS) ListDir(virtualPath string) ([]FSEntry, error) {
	hostPath, _, err := f.resolve(virtualPath, false)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, virtualPath)
		}
		return nil, fmt.Errorf("list error: %w", err)
	}

	result := make([]FSEntry, 0, len(entries))
	for _, entry := range entries {
		item := FSEntry{Name: entry.Name(), IsDir: entry.IsDir()}
		if info, err := entry.Info(); err == nil {
			item.Size = info.Size()
		}
		result = append(result, item)
	}
	return result, nil
}

// List returns the contents of a directory.
func (f *FS) List(ctx context.Context, args map[string]any) (any, error) {
	p, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("path required")
	}
	entries, err := f.ListDir(p)
	if err != nil {
		return nil, err
	}
	result := make([]any, 0, len(entries))
	for _, e := range entries {
		result = append(result, map[string]any{
			"name":   e.Name,
			"is_dir": e.IsDir,
			"size":   e.Size,
		})
	}
	return result, nil
}

// Exists checks if a path exists.
func (f *FS) Exists(ctx context.Context, args map[string]any) (any, error) {
	p, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("path required")
	}

	hostPath, _, err := f.resolve(p, false)
	if err != nil {
		// Outside every mount the path does not exist as far as lesson code can tell.
		return false, nil
	}
	_, err = os.Stat(hostPath)
	return err == nil, nil
}

// Mkdir creates a directory.
func (f *FS) Mkdir(ctx context.Context, args map[string]any) (any, error) {
	p, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("path required")
	}
	if err := f.MkdirAll(p); err != nil {
		return nil, err
	}
	return "ok", nil
}

// Remove deletes a file or empty directory.
func (f *FS) Remove(ctx context.Context, args map[string]any) (any, error) {
	p, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("path required")
	}

	hostPath, _, err := f.resolve(p, true)
	if err != nil {
		return nil, err
	}

	if err := os.Remove(hostPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && strings.Contains(pathErr.Error(), "directory not empty") {
			return nil, errors.New("directory not empty: " + p)
		}
		return nil, errors.New("remove error: " + err.Error())
	}
	return "ok", nil
}

// Stat returns information about a file or directory.
func (f *FS) Stat(ctx context.Context, args map[string]any) (any, error) {
	p, ok := args["path"].(string)
	if !ok {
		return nil, errors.New("path required")
	}

	hostPath, _, err := f.resolve(p, false)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, errors.New("stat error: " + err.Error())
	}

	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}

// Register installs the filesystem functions under their fs_* names.
func (f *FS) Register(r *Registry) {
	r.Register("fs_read", f.Read)
	r.Register("fs_write", f.Write)
	r.Register("fs_list", f.List)
	r.Register("fs_exists", f.Exists)
	r.Register("fs_mkdir", f.Mkdir)
	r.Register("fs_remove", f.Remove)
	r.Register("fs_stat", f.Stat)
}
