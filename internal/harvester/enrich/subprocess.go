package enrich

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
)

const stderrTailBytes = 1024

// runSubprocess runs executable with stdout redirected to stdoutPath. The process and everything it spawned are
// killed when timeout elapses or ctx is cancelled. Stderr is kept in workDir for inspection and its tail is included in errors.
func runSubprocess(ctx context.Context, workDir string, timeout time.Duration, stdoutPath string, executable string, args ...string) error {
	log := runcontext.FromContext(ctx).Log.WithField("executable", executable)

	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stdout.Close()
	stderrPath := filepath.Join(workDir, filepath.Base(executable)+".stderr")
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer stderr.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.Command(executable, args...)
	cmd.Dir = workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	log.Debugf("running %v", args)
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "cannot run %s", executable)
	}
	exited := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			if err := killProcessGroup(cmd.Process); err != nil {
				log.WithError(err).Warn("cannot kill process group")
			}
		case <-exited:
		}
	}()
	err = cmd.Wait()
	close(exited)
	log.Debugf("finished after %s", time.Since(start))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.WithStack(ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return errors.Errorf("%s timed out after %s", executable, timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return errors.Errorf("%s exited with code %d: %s", executable, exitErr.ExitCode(), tail(stderrPath))
	}
	return errors.Wrapf(err, "cannot run %s", executable)
}

func tail(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if info.Size() > stderrTailBytes {
		if _, err := f.Seek(-stderrTailBytes, io.SeekEnd); err != nil {
			return ""
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%q", string(b))
}
