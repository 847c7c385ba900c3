// Package jsonl appends JSON records to line-delimited files.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("jsonl writer is closed")

// Writer appends one JSON document per line. Every record is synced to disk
// before Append returns, so a crash loses at most the record being written.
// It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens path for appending, creating it and its directory when needed.
// A record left unterminated by a crash is cut off before the first new
// record is written, so earlier lines stay readable.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := truncateTornTail(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to repair %s: %w", path, err)
	}
	return &Writer{file: f, path: path}, nil
}

// tailChunk is how far truncateTornTail reads back per step.
const tailChunk = 4096

// truncateTornTail drops everything after the last newline of f.
func truncateTornTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	buf := make([]byte, tailChunk)
	end := size
	for end > 0 {
		start := max(end-tailChunk, 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			end = start + int64(i) + 1
			break
		}
		end = start
	}
	if end == size {
		return nil
	}
	if err := f.Truncate(end); err != nil {
		return err
	}
	return f.Sync()
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// Append writes v as a single line.
func (w *Writer) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", w.path, err)
	}
	return nil
}

// Close closes the file. Calling Close twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadAll decodes every line of r into a T. Blank lines are skipped. An
// undecodable final line without a newline is a record torn by a crash and
// is ignored; any other bad line is an error.
func ReadAll[T any](r io.Reader) ([]T, error) {
	var out []T
	reader := bufio.NewReader(r)
	line := 0
	for {
		data, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		last := errors.Is(err, io.EOF)
		if len(data) == 0 && last {
			return out, nil
		}
		line++

		text := bytes.TrimRight(data, "\r\n")
		if len(text) > 0 {
			var v T
			if uerr := json.Unmarshal(text, &v); uerr != nil {
				if last {
					return out, nil
				}
				return nil, fmt.Errorf("line %d: %w", line, uerr)
			}
			out = append(out, v)
		}
		if last {
			return out, nil
		}
	}
}

// ReadFile decodes every line of the file at path. A missing file yields
// no records.
func ReadFile[T any](path string) ([]T, error) {
	f, err := os.Open(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll[T](f)
}
