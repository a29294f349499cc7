package handler

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/seoulengine/moriarty/pkg/proto"
)

var (
	ErrDirectoryNotServed = errors.New("logical directory not served")
	ErrPathEscapesRoot    = errors.New("path escapes serving root")
)

// Resolver maps logical FilePath values onto the local filesystem. Each
// served GameDirectory has one absolute root; unserved directories reject
// every request.
type Resolver struct {
	roots [proto.GameDirectoryCount]string
}

// NewResolver builds a resolver from the configured roots. Roots are cleaned
// to absolute paths; an empty root leaves the directory unserved.
func NewResolver(roots map[proto.GameDirectory]string) (*Resolver, error) {
	var r Resolver
	for dir, root := range roots {
		if !dir.Valid() || root == "" {
			continue
		}

		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root for %s failed: %w", dir, err)
		}

		r.roots[dir] = abs
	}

	return &r, nil
}

// Root returns the serving root for a logical directory.
func (r *Resolver) Root(dir proto.GameDirectory) (string, bool) {
	if !dir.Valid() {
		return "", false
	}

	root := r.roots[dir]
	return root, root != ""
}

// Resolve turns a FilePath into an absolute local path inside the directory's
// serving root. A FilePath with an empty relative path addresses the root
// itself, which directory operations need.
func (r *Resolver) Resolve(fp proto.FilePath) (string, error) {
	root, ok := r.Root(fp.Directory)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrDirectoryNotServed, fp.Directory)
	}

	rel := filepath.FromSlash(fp.RelativeFilename())
	full := filepath.Join(root, rel)

	// Join cleans the path, so a traversal attempt lands outside the root
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesRoot, fp)
	}

	return full, nil
}

// FilePathFromLocal maps an absolute local path back to a FilePath. It fails
// for paths outside every serving root and for files of unknown type.
func (r *Resolver) FilePathFromLocal(path string) (proto.FilePath, bool) {
	for dir := proto.GameDirectory(0); int(dir) < proto.GameDirectoryCount; dir++ {
		root := r.roots[dir]
		if root == "" {
			continue
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
			continue
		}

		return proto.NewFilePath(dir, filepath.ToSlash(rel))
	}

	return proto.FilePath{}, false
}

// MonitoredRoot is a serving root whose content changes are pushed to
// clients.
type MonitoredRoot struct {
	Directory proto.GameDirectory
	Root      string
}

// Monitored lists the served roots subject to change notification and stat
// cache priming. Only content and config assets hot-reload.
func (r *Resolver) Monitored() []MonitoredRoot {
	var out []MonitoredRoot
	for _, dir := range []proto.GameDirectory{proto.DirContent, proto.DirConfig} {
		if root := r.roots[dir]; root != "" {
			out = append(out, MonitoredRoot{Directory: dir, Root: root})
		}
	}

	return out
}
