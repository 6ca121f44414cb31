package compress

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

type Format string

const (
	FormatNone Format = "none"
	FormatXz   Format = "xz"
	FormatZstd Format = "zstd"
	FormatGzip Format = "gzip"
)

// Stdin is the path that makes OpenFile read from standard input.
const Stdin = "-"

// FormatFromPath infers the compression format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xz":
		return FormatXz
	case ".zst", ".zstd":
		return FormatZstd
	case ".gz", ".gzip":
		return FormatGzip
	default:
		return FormatNone
	}
}

// OpenFile opens path (or stdin for "-") and returns a reader over the decompressed contents.
// Closing the returned reader closes the underlying file.
func OpenFile(path string, format Format) (io.ReadCloser, error) {
	var f io.ReadCloser
	if path == Stdin {
		f = io.NopCloser(os.Stdin)
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		f = file
	}
	r, err := NewReader(bufio.NewReaderSize(f, 1<<20), format)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &stackedReadCloser{Reader: r, closers: []io.Closer{r, f}}, nil
}

// NewReader wraps r in a decompressor for format.
func NewReader(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatNone, "":
		return io.NopCloser(r), nil
	case FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open xz stream")
		}
		return io.NopCloser(xr), nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open zstd stream")
		}
		return zr.IOReadCloser(), nil
	case FormatGzip:
		gr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open gzip stream")
		}
		return gr, nil
	default:
		return nil, errors.Errorf("unknown compression format %q", format)
	}
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
