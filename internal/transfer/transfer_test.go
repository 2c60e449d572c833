package transfer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/tvachon/lanvault/internal/sandbox"
)

func tempRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("canonicalize temp dir: %v", err)
	}
	return root
}

// pattern returns n deterministic non-repeating-ish bytes.
func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + i>>8)
	}
	return out
}

func TestSinkOrderedWrites(t *testing.T) {
	root := tempRoot(t)

	sink, err := NewSink(root, "up/dest.bin")
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	chunks := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	for _, c := range chunks {
		if err := sink.WriteChunk(c); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.Written() != int64(len("first-second-third")) {
		t.Errorf("Written() = %d", sink.Written())
	}

	data, err := os.ReadFile(filepath.Join(root, "up", "dest.bin"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "first-second-third" {
		t.Errorf("content = %q, chunks reordered or lost", data)
	}
}

func TestSinkRejectsEscape(t *testing.T) {
	root := tempRoot(t)
	if _, err := NewSink(root, "../../escape.bin"); !errors.Is(err, sandbox.ErrAccessDenied) {
		t.Errorf("err = %v, want ErrAccessDenied", err)
	}
}

func TestSinkRejectsOversizedChunk(t *testing.T) {
	root := tempRoot(t)
	sink, err := NewSink(root, "big.bin")
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	defer sink.Close()

	if err := sink.WriteChunk(make([]byte, ChunkSize+1)); err == nil {
		t.Error("oversized chunk accepted")
	}
	if err := sink.WriteChunk(make([]byte, ChunkSize)); err != nil {
		t.Errorf("exact-size chunk rejected: %v", err)
	}
}

func TestSourceChunking(t *testing.T) {
	root := tempRoot(t)

	// 3 MiB plus a partial tail chunk.
	const epsilon = 1234
	content := pattern(3*ChunkSize + epsilon)
	if err := os.WriteFile(filepath.Join(root, "file.bin"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenSource(root, "file.bin")
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer src.Close()

	var got []byte
	var sizes []int
	for {
		chunk, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}

	if len(sizes) != 4 {
		t.Fatalf("got %d chunks, want 4", len(sizes))
	}
	for i := 0; i < 3; i++ {
		if sizes[i] != ChunkSize {
			t.Errorf("chunk %d size = %d, want %d", i, sizes[i], ChunkSize)
		}
	}
	if sizes[3] != epsilon {
		t.Errorf("tail chunk size = %d, want %d", sizes[3], epsilon)
	}
	if !bytes.Equal(got, content) {
		t.Error("reassembled bytes differ from source")
	}
}

func TestSourceEmptyFile(t *testing.T) {
	root := tempRoot(t)
	if err := os.WriteFile(filepath.Join(root, "empty"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenSource(root, "empty")
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer src.Close()

	if _, err := src.Next(); err != io.EOF {
		t.Errorf("empty file: err = %v, want io.EOF", err)
	}
}

func TestSourceErrors(t *testing.T) {
	root := tempRoot(t)

	if _, err := OpenSource(root, "missing.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: err = %v, want ErrNotFound", err)
	}
	if _, err := OpenSource(root, "/../../etc/passwd"); !errors.Is(err, sandbox.ErrAccessDenied) {
		t.Errorf("escape: err = %v, want ErrAccessDenied", err)
	}

	if err := os.MkdirAll(filepath.Join(root, "adir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSource(root, "adir"); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory: err = %v, want ErrNotFound", err)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	root := tempRoot(t)
	content := pattern(2*ChunkSize + 99)

	sink, err := NewSink(root, "rt/file.bin")
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	for off := 0; off < len(content); off += ChunkSize {
		end := off + ChunkSize
		if end > len(content) {
			end = len(content)
		}
		if err := sink.WriteChunk(content[off:end]); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	src, err := OpenSource(root, "rt/file.bin")
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer src.Close()

	var got []byte
	for {
		chunk, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, content) {
		t.Error("round trip mismatch")
	}
}
