package flat

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rotblauer/treetiles/params"
)

type GZFileWriter struct {
	f      *os.File
	gzw    *gzip.Writer
	enc    *json.Encoder
	locked bool
	closed bool

	GZFileWriterConfig
}

type GZFileWriterConfig struct {
	CompressionLevel int
	Flag             int
	FilePerm         os.FileMode
	DirPerm          os.FileMode
}

func DefaultGZFileWriterConfig() *GZFileWriterConfig {
	return &GZFileWriterConfig{
		CompressionLevel: params.DefaultGZipCompressionLevel,
		Flag:             os.O_WRONLY | os.O_TRUNC | os.O_CREATE,
		FilePerm:         0660,
		DirPerm:          0770,
	}
}

func NewGZFileWriter(path string, config *GZFileWriterConfig) (*GZFileWriter, error) {
	if config == nil {
		config = DefaultGZFileWriterConfig()
	}
	if err := os.MkdirAll(filepath.Dir(path), config.DirPerm); err != nil {
		return nil, err
	}
	fi, err := os.OpenFile(path, config.Flag, config.FilePerm)
	if err != nil {
		return nil, err
	}
	gzw, err := gzip.NewWriterLevel(fi, config.CompressionLevel)
	if err != nil {
		_ = fi.Close()
		return nil, err
	}
	g := &GZFileWriter{
		f:                  fi,
		gzw:                gzw,
		GZFileWriterConfig: *config,
	}
	g.enc = json.NewEncoder(g)
	return g, nil
}

func (g *GZFileWriter) Write(p []byte) (int, error) {
	g.lock()
	return g.gzw.Write(p)
}

// Encode writes v as one line of JSON.
func (g *GZFileWriter) Encode(v any) error {
	return g.enc.Encode(v)
}

// lock locks the file for exclusive access.
// The lock will be invalidated if and when the file is closed.
func (g *GZFileWriter) lock() {
	if g.locked || g.closed || g.f == nil {
		return
	}
	fd := g.f.Fd()
	_ = syscall.Flock(int(fd), syscall.LOCK_EX)
	g.locked = true
}

// unlock unlocks the file. It is a no-op if the file is not locked.
// It is not required if the file is closed.
func (g *GZFileWriter) unlock() {
	if !g.locked || g.closed || g.f == nil {
		return
	}
	fd := g.f.Fd()
	_ = syscall.Flock(int(fd), syscall.LOCK_UN)
	g.locked = false
}

// Close flushes and closes the writer. Closing twice is a no-op.
func (g *GZFileWriter) Close() error {
	if g.closed {
		return nil
	}
	defer func() {
		g.closed = true
	}()
	defer g.unlock()
	if err := g.gzw.Close(); err != nil {
		_ = g.f.Close()
		return err
	}
	if err := g.f.Sync(); err != nil {
		_ = g.f.Close()
		return err
	}
	return g.f.Close()
}

func (g *GZFileWriter) Path() string {
	return g.f.Name()
}

type GZFileReader struct {
	f      *os.File
	gzr    *gzip.Reader
	closed bool
}

func NewGZFileReader(path string) (*GZFileReader, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gzr, err := gzip.NewReader(fi)
	if err != nil {
		_ = fi.Close()
		return nil, err
	}
	return &GZFileReader{f: fi, gzr: gzr}, nil
}

func (g *GZFileReader) Path() string {
	return g.f.Name()
}

// Read satisfies the io.Reader interface.
func (g *GZFileReader) Read(p []byte) (int, error) {
	return g.gzr.Read(p)
}

// Close satisfies the io.Closer interface.
// It closes the gzip reader and the file.
func (g *GZFileReader) Close() error {
	if g.closed {
		return nil
	}
	defer func() {
		g.closed = true
	}()
	if err := g.gzr.Close(); err != nil {
		return err
	}
	return g.f.Close()
}

func (g *GZFileReader) LineCount() (int, error) {
	count := 0
	scanner := bufio.NewScanner(g.gzr)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

var gzipMagic = []byte{0x1f, 0x8b}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

// OpenMaybeGZ opens path for reading, transparently decompressing it
// if it starts with the gzip magic bytes.
func OpenMaybeGZ(path string) (io.ReadCloser, error) {
	fi, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(fi)
	head, err := br.Peek(2)
	if err != nil || !bytes.Equal(head, gzipMagic) {
		// Short or empty files are read as-is.
		return readCloser{Reader: br, close: fi.Close}, nil
	}
	gzr, err := gzip.NewReader(br)
	if err != nil {
		_ = fi.Close()
		return nil, err
	}
	return readCloser{Reader: gzr, close: func() error {
		_ = gzr.Close()
		return fi.Close()
	}}, nil
}

// WriteFileAtomic writes data to StagingPath(path) and registers it with txn.
func WriteFileAtomic(txn *Txn, path string, data []byte) error {
	tmp := txn.Stage(path, nil)
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return err
	}
	return os.WriteFile(tmp, data, 0660)
}
