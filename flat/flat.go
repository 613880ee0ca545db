/*
Package flat stores build outputs as files in a cache directory.

Writers stage their output in a temporary sibling of the final path.
A Txn collects staged files and renames them into place together once
every writer has finished, or removes them all when the build fails.
*/
package flat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type Flat struct {
	// path is the cache directory, including its root.
	path string
}

func NewFlatWithRoot(root string) *Flat {
	root = filepath.Clean(root)
	// If root is not absolute, make it absolute.
	if !filepath.IsAbs(root) {
		root, _ = filepath.Abs(root)
	}
	return &Flat{path: root}
}

func (f *Flat) Joins(paths ...string) *Flat {
	return &Flat{path: filepath.Join(append([]string{f.path}, paths...)...)}
}

func (f *Flat) MkdirAll() error {
	return os.MkdirAll(f.path, 0770)
}

func (f *Flat) Path() string {
	return f.path
}

// File returns the path of name within the directory.
func (f *Flat) File(name string) string {
	return filepath.Join(f.path, name)
}

// NamedGZWriter stages a gzip writer for name, registering it with txn.
func (f *Flat) NamedGZWriter(txn *Txn, name string, config *GZFileWriterConfig) (*GZFileWriter, error) {
	if config == nil {
		config = DefaultGZFileWriterConfig()
	}
	final := f.File(name)
	w, err := NewGZFileWriter(StagingPath(final), config)
	if err != nil {
		return nil, err
	}
	txn.add(final, w.Path(), w.Close)
	return w, nil
}

func (f *Flat) NamedGZReader(name string) (*GZFileReader, error) {
	return NewGZFileReader(f.File(name))
}

// StagingPath is where a file destined for final is written before commit.
func StagingPath(final string) string {
	return final + ".tmp"
}

type staged struct {
	final, tmp string
	closer     func() error
}

// Txn is a set of staged files that become visible together.
// It is not safe for concurrent use.
type Txn struct {
	files []staged
	done  bool
}

func NewTxn() *Txn {
	return &Txn{}
}

func (t *Txn) add(final, tmp string, closer func() error) {
	t.files = append(t.files, staged{final: final, tmp: tmp, closer: closer})
}

// Stage registers a file written by other means at StagingPath(final).
// closer may be nil.
func (t *Txn) Stage(final string, closer func() error) string {
	tmp := StagingPath(final)
	t.add(final, tmp, closer)
	return tmp
}

// Finals lists the final paths of staged files.
func (t *Txn) Finals() []string {
	out := make([]string, len(t.files))
	for i, f := range t.files {
		out[i] = f.final
	}
	return out
}

// Commit closes any open staged writers, then renames every staged file into
// place in the order they were staged, so stage the file readers check first
// (a manifest) last. If any close or rename fails, files already moved are
// restored to their previous versions and all staged files are removed.
func (t *Txn) Commit() error {
	if t.done {
		return errors.New("txn already finished")
	}
	for _, f := range t.files {
		if f.closer == nil {
			continue
		}
		if err := f.closer(); err != nil {
			t.Abort()
			return fmt.Errorf("close %s: %w", f.tmp, err)
		}
	}
	t.done = true

	var backups []string
	for i, f := range t.files {
		backup := BackupPath(f.final)
		if err := os.Rename(f.final, backup); err == nil {
			backups = append(backups, backup)
		} else if !os.IsNotExist(err) {
			t.rollback(i, backups)
			return fmt.Errorf("commit %s: %w", f.final, err)
		} else {
			backups = append(backups, "")
		}
		if err := os.Rename(f.tmp, f.final); err != nil {
			t.rollback(i+1, backups)
			return fmt.Errorf("commit %s: %w", f.final, err)
		}
	}
	for _, b := range backups {
		if b != "" {
			_ = os.Remove(b)
		}
	}
	return nil
}

// BackupPath is where the previous version of final waits during Commit.
func BackupPath(final string) string {
	return final + ".prev"
}

// rollback undoes the first n moves of a failed Commit.
// backups[i] is empty when files[i] had no previous version.
func (t *Txn) rollback(n int, backups []string) {
	for i := 0; i < n; i++ {
		f := t.files[i]
		if i < len(backups) && backups[i] != "" {
			_ = os.Rename(backups[i], f.final)
		} else {
			_ = os.Remove(f.final)
		}
	}
	for _, f := range t.files {
		_ = os.Remove(f.tmp)
	}
}

// Abort closes and removes every staged file. It is a no-op after Commit.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	for _, f := range t.files {
		if f.closer != nil {
			_ = f.closer()
		}
		_ = os.Remove(f.tmp)
	}
}
