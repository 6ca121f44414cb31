package enrich

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/harvester/configuration"
	"github.com/vineyard-genomics/harvester/internal/harvester/fasta"
)

const alignedFastaName = "aligned.fasta"

// Mafft aligns fragments against a fixed reference, keeping the reference length so that positions are comparable.
type Mafft struct {
	config        configuration.SubprocessConfig
	referencePath string
}

func NewMafft(config configuration.SubprocessConfig, referencePath string) *Mafft {
	return &Mafft{config: config, referencePath: referencePath}
}

func (m *Mafft) Align(ctx context.Context, workDir string, fastaPath string) (map[string]string, error) {
	threads := m.config.Parallelism
	if threads < 1 {
		threads = 1
	}
	args := []string{"--addfragments", fastaPath, "--keeplength", "--auto", "--thread", strconv.Itoa(threads)}
	args = append(args, m.config.ExtraArgs...)
	args = append(args, m.referencePath)

	outputPath := filepath.Join(workDir, alignedFastaName)
	if err := runSubprocess(ctx, workDir, m.config.Timeout, outputPath, m.config.Executable, args...); err != nil {
		return nil, err
	}
	f, err := os.Open(outputPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	aligned, err := fasta.ReadMap(f)
	if err != nil {
		return nil, errors.WithMessage(err, "cannot read aligner output")
	}
	for id, seq := range aligned {
		aligned[id] = strings.ToUpper(seq)
	}
	return aligned, nil
}
