package fasta

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Entry{{Id: "EPI_ISL_1", Seq: "ACGT"}, {Id: "EPI_ISL_2", Seq: "TT"}}))
	assert.Equal(t, ">EPI_ISL_1\nACGT\n\n>EPI_ISL_2\nTT\n\n", buf.String())
}

func TestRead_MultiLineAndBlankLines(t *testing.T) {
	input := ">ref description text\nACGT\nACGT\n\n>EPI_ISL_2\r\nTT-A\r\n\n>EPI_ISL_3\nGG"
	entries, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Id: "ref", Seq: "ACGTACGT"},
		{Id: "EPI_ISL_2", Seq: "TT-A"},
		{Id: "EPI_ISL_3", Seq: "GG"},
	}, entries)
}

func TestRead_Empty(t *testing.T) {
	entries, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRead_DataBeforeHeader(t *testing.T) {
	_, err := Read(strings.NewReader("ACGT\n>x\nA\n"))
	assert.Error(t, err)
}

func TestWriteThenReadMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "original.fasta")
	require.NoError(t, WriteFile(path, []Entry{{Id: "a", Seq: "AC"}, {Id: "b", Seq: "GT"}}))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	m, err := ReadMap(f)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "AC", "b": "GT"}, m)
}

func TestReadSingleFile(t *testing.T) {
	dir := t.TempDir()
	one := filepath.Join(dir, "reference.fasta")
	require.NoError(t, os.WriteFile(one, []byte(">MN908947.3\nACGT\n"), 0o644))
	entry, err := ReadSingleFile(one)
	require.NoError(t, err)
	assert.Equal(t, "ACGT", entry.Seq)

	two := filepath.Join(dir, "two.fasta")
	require.NoError(t, os.WriteFile(two, []byte(">a\nA\n>b\nC\n"), 0o644))
	_, err = ReadSingleFile(two)
	assert.Error(t, err)
}
