// Package fasta reads and writes the FASTA files exchanged with the alignment and clade tools.
package fasta

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type Entry struct {
	Id  string
	Seq string
}

// Write writes entries as ">id\nseq\n\n".
func Write(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := bw.WriteString(">" + e.Id + "\n" + e.Seq + "\n\n"); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(bw.Flush())
}

func WriteFile(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := Write(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	return errors.WithStack(f.Close())
}

// Read parses all entries of r. Sequence lines are concatenated; blank lines are ignored; the id is the first
// whitespace-delimited token of the header. Lines before the first header are an error.
func Read(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		id      string
		seq     bytes.Buffer
		inEntry bool
	)
	flush := func() {
		if inEntry {
			entries = append(entries, Entry{Id: id, Seq: seq.String()})
		}
	}

	br := bufio.NewReaderSize(r, 1<<16)
	for {
		line, err := br.ReadBytes('\n')
		eof := err == io.EOF
		if err != nil && !eof {
			return nil, errors.WithStack(err)
		}
		line = bytes.TrimRight(line, "\r\n")
		switch {
		case len(bytes.TrimSpace(line)) == 0:
		case line[0] == '>':
			flush()
			fields := strings.Fields(string(line[1:]))
			if len(fields) == 0 {
				return nil, errors.New("fasta header without id")
			}
			id = fields[0]
			seq.Reset()
			inEntry = true
		default:
			if !inEntry {
				return nil, errors.New("fasta sequence data before first header")
			}
			seq.Write(bytes.TrimSpace(line))
		}
		if eof {
			break
		}
	}
	flush()
	return entries, nil
}

// ReadMap is Read keyed by id. Later duplicates win.
func ReadMap(r io.Reader) (map[string]string, error) {
	entries, err := Read(r)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Id] = e.Seq
	}
	return m, nil
}

// ReadSingleFile reads a file that must contain exactly one entry, such as the reference genome.
func ReadSingleFile(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, errors.WithStack(err)
	}
	defer f.Close()
	entries, err := Read(f)
	if err != nil {
		return Entry{}, errors.WithMessagef(err, "cannot read %s", path)
	}
	if len(entries) != 1 {
		return Entry{}, errors.Errorf("%s contains %d sequences, expected exactly one", path, len(entries))
	}
	return entries[0], nil
}
