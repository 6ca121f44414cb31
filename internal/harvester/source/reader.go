package source

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// maxLineSize bounds a single entry; full genomes with metadata stay well below it.
const maxLineSize = 64 * 1024 * 1024

// LineReader yields the non-blank lines of a line-delimited source. Lines read by Peek are returned again by Next.
type LineReader struct {
	scanner *bufio.Scanner
	peeked  []string
	err     error
}

func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)
	return &LineReader{scanner: scanner}
}

// Peek returns up to n lines without consuming them.
func (l *LineReader) Peek(n int) ([]string, error) {
	for len(l.peeked) < n {
		line, ok := l.scan()
		if !ok {
			break
		}
		l.peeked = append(l.peeked, line)
	}
	if l.err != nil {
		return nil, l.err
	}
	if len(l.peeked) < n {
		return append([]string(nil), l.peeked...), nil
	}
	return append([]string(nil), l.peeked[:n]...), nil
}

// Next returns the next line, or false once the source is consumed or failed. Check Err afterwards.
func (l *LineReader) Next() (string, bool) {
	if len(l.peeked) > 0 {
		line := l.peeked[0]
		l.peeked = l.peeked[1:]
		return line, true
	}
	return l.scan()
}

func (l *LineReader) Err() error {
	return l.err
}

func (l *LineReader) scan() (string, bool) {
	if l.err != nil {
		return "", false
	}
	for l.scanner.Scan() {
		line := l.scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line, true
	}
	if err := l.scanner.Err(); err != nil {
		l.err = errors.Wrap(err, "error reading source")
	}
	return "", false
}
