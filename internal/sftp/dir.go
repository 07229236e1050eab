package sftp

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

func mkdirAllLocal(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// defaultExclusions are skipped by directory transfers regardless of the
// caller's pattern.
var defaultExclusions = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"__pycache__",
	".DS_Store",
	"*.pyc",
	"*.pyo",
}

// excluded reports whether a path component matches a default exclusion.
func excluded(name string) bool {
	for _, pattern := range defaultExclusions {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// matches applies the caller's glob pattern to a path relative to the
// transfer root. An empty pattern matches everything.
func matches(pattern, rel string) bool {
	if pattern == "" {
		return true
	}
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	// Also try the bare filename so "*.log" works at any depth.
	ok, _ := doublestar.Match(pattern, path.Base(rel))
	return ok
}

// PutDir uploads a local directory tree to remoteDir. Files are filtered by
// the optional doublestar glob pattern (matched against paths relative to
// localDir); version-control and cache directories are always skipped.
func (c *Client) PutDir(localDir, remoteDir, pattern string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &TransferError{Op: "put-dir", Local: p, Remote: remoteDir, Err: err}
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return &TransferError{Op: "put-dir", Local: p, Remote: remoteDir, Err: err}
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && excluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded(d.Name()) || !matches(pattern, rel) {
			return nil
		}

		remotePath := path.Join(remoteDir, rel)
		if err := c.MkdirAll(path.Dir(remotePath)); err != nil {
			return &TransferError{Op: "put-dir", Local: p, Remote: remotePath, Err: err}
		}
		return c.Put(p, remotePath)
	})
}

// GetDir downloads a remote directory tree to localDir, filtered like
// PutDir.
func (c *Client) GetDir(remoteDir, localDir, pattern string) error {
	client, err := c.ensureConnected()
	if err != nil {
		return &TransferError{Op: "get-dir", Local: localDir, Remote: remoteDir, Err: err}
	}

	walker := client.Walk(remoteDir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return &TransferError{Op: "get-dir", Local: localDir, Remote: walker.Path(), Err: err}
		}

		p := walker.Path()
		rel := strings.TrimPrefix(strings.TrimPrefix(p, remoteDir), "/")
		info := walker.Stat()

		if info.IsDir() {
			if rel != "" && excluded(info.Name()) {
				walker.SkipDir()
			}
			continue
		}
		if excluded(info.Name()) || !matches(pattern, rel) {
			continue
		}

		localPath := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := mkdirAllLocal(filepath.Dir(localPath)); err != nil {
			return &TransferError{Op: "get-dir", Local: localPath, Remote: p, Err: err}
		}
		if err := c.Get(p, localPath); err != nil {
			return err
		}
	}
	return nil
}
