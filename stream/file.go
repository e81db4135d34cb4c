package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zsiec/mediaflow/param"
	"github.com/zsiec/mediaflow/registry"
)

// FileStream adapts an os.File to the Stream contract. The open mode uses
// fopen-style letters: "re" opens read-only, "we" create+truncate for
// write, "ae" append, with "+" adding the opposite direction.
type FileStream struct {
	f        *os.File
	readable bool
	writable bool
	eof      bool
}

// OpenFile opens path with an fopen-style mode string.
func OpenFile(path, mode string) (*FileStream, error) {
	flags, readable, writable, err := parseOpenMode(mode)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", path, err)
	}
	return &FileStream{f: f, readable: readable, writable: writable}, nil
}

func parseOpenMode(mode string) (flags int, readable, writable bool, err error) {
	plus := strings.Contains(mode, "+")
	switch {
	case strings.Contains(mode, "r"):
		readable = true
		writable = plus
	case strings.Contains(mode, "w"):
		writable = true
		readable = plus
		flags = os.O_CREATE | os.O_TRUNC
	case strings.Contains(mode, "a"):
		writable = true
		readable = plus
		flags = os.O_CREATE | os.O_APPEND
	default:
		return 0, false, false, fmt.Errorf("stream: bad open mode %q", mode)
	}
	switch {
	case readable && writable:
		flags |= os.O_RDWR
	case writable:
		flags |= os.O_WRONLY
	default:
		flags |= os.O_RDONLY
	}
	return flags, readable, writable, nil
}

// Read reads from the file, recording end-of-file for Eof.
func (s *FileStream) Read(p []byte) (int, error) {
	if !s.readable {
		return 0, ErrUnsupported
	}
	n, err := s.f.Read(p)
	if errors.Is(err, io.EOF) {
		s.eof = true
	}
	return n, err
}

// Write writes to the file.
func (s *FileStream) Write(p []byte) (int, error) {
	if !s.writable {
		return 0, ErrUnsupported
	}
	return s.f.Write(p)
}

// Seek repositions the file and clears the end-of-file state.
func (s *FileStream) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.f.Seek(offset, whence)
	if err == nil {
		s.eof = false
	}
	return pos, err
}

// Eof reports whether a read has hit end-of-file since the last seek.
func (s *FileStream) Eof() bool { return s.eof }

// IoCtrl is not supported on plain files.
func (s *FileStream) IoCtrl(request uint, arg uintptr) (int, error) {
	return -1, ErrUnsupported
}

// Close closes the underlying file.
func (s *FileStream) Close() error { return s.f.Close() }

func registerFile(r *registry.Registry) {
	r.Register(registry.KindStream, FileReadStream, registry.Factory{
		New: func(params map[string]string) (any, error) {
			path := params[param.KeyPath]
			if path == "" {
				return nil, fmt.Errorf("stream: missing %s", param.KeyPath)
			}
			mode := params[param.KeyOpenMode]
			if mode == "" {
				mode = "re"
			}
			return OpenFile(path, mode)
		},
	})
	r.Register(registry.KindStream, FileWriteStream, registry.Factory{
		New: func(params map[string]string) (any, error) {
			path := params[param.KeyPath]
			if path == "" {
				return nil, fmt.Errorf("stream: missing %s", param.KeyPath)
			}
			mode := params[param.KeyOpenMode]
			if mode == "" {
				mode = "we"
			}
			return OpenFile(path, mode)
		},
	})
}
