// Package transfer implements the chunked streaming plane: ordered uploads
// into the storage root and lazy chunked downloads out of it. Both directions
// are gated by the same registry/ticket/sandbox checks as the control plane.
package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tvachon/lanvault/internal/sandbox"
)

// ChunkSize is the fixed transmission unit: downloads emit chunks of exactly
// this size until the final partial one, uploads refuse anything larger.
const ChunkSize = 1 << 20 // 1 MiB

// ErrNotFound is returned when a download source does not exist.
var ErrNotFound = errors.New("file not found")

// Sink writes an ordered chunk sequence to a sandboxed destination file.
// Chunks are written in arrival order, one write per chunk. There is no
// rollback: on mid-stream failure, bytes already written stay on disk.
type Sink struct {
	f       *os.File
	written int64
}

// NewSink resolves destPath under root, creates parent directories, and
// truncates the destination.
func NewSink(root, destPath string) (*Sink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	resolved, err := sandbox.Resolve(root, destPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create destination dir: %w", err)
	}
	f, err := os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open destination: %w", err)
	}
	return &Sink{f: f}, nil
}

// WriteChunk appends one chunk to the destination.
func (s *Sink) WriteChunk(p []byte) error {
	if len(p) > ChunkSize {
		return fmt.Errorf("chunk of %d bytes exceeds %d byte limit", len(p), ChunkSize)
	}
	n, err := s.f.Write(p)
	s.written += int64(n)
	if err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	return nil
}

// Written returns the number of bytes durably handed to the file so far.
func (s *Sink) Written() int64 {
	return s.written
}

func (s *Sink) Close() error {
	return s.f.Close()
}

// Source reads a sandboxed file as a finite sequence of ChunkSize chunks.
// The sequence ends at EOF; there is no end-marker chunk and no resumption.
type Source struct {
	f   *os.File
	buf []byte
}

// OpenSource resolves srcPath under root and opens it for chunked reading.
// Escaping paths return sandbox.ErrAccessDenied before any filesystem
// access; absent files return ErrNotFound.
func OpenSource(root, srcPath string) (*Source, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	resolved, err := sandbox.Resolve(root, srcPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return &Source{f: f, buf: make([]byte, ChunkSize)}, nil
}

// Next returns the next chunk. The returned slice is only valid until the
// following call. io.EOF signals the end of the sequence.
func (s *Source) Next() ([]byte, error) {
	n, err := io.ReadFull(s.f, s.buf)
	if n > 0 {
		return s.buf[:n], nil
	}
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return nil, err
}

func (s *Source) Close() error {
	return s.f.Close()
}
