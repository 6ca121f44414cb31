package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/vineyard-genomics/harvester/internal/harvester/model"
)

func finalReport() *model.FinalReport {
	start := time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC)
	return &model.FinalReport{
		Success:          true,
		ImportMode:       model.ImportModeUpdate,
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
		ProcessedEntries: 3,
		BatchReport:      model.BatchReport{Added: 2, UpdatedTotal: 1},
	}
}

func TestLogNotifier(t *testing.T) {
	n := LogNotifier{}
	assert.NoError(t, n.Send(context.Background(), finalReport()))
	assert.NoError(t, n.Send(context.Background(), &model.UnexpectedDataReport{Priority: model.PriorityFatal}))
	assert.NoError(t, n.Send(context.Background(), &model.CrashReport{Stage: "preflight", Error: "boom"}))
	assert.Error(t, n.Send(context.Background(), "not a report"))
}

func TestFileNotifier(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	n := NewFileNotifier(dir)

	require.NoError(t, n.Send(context.Background(), finalReport()))
	require.NoError(t, n.Send(context.Background(), &model.UnexpectedDataReport{
		Priority:       model.PriorityInfo,
		UnexpectedKeys: []string{"covv_new"},
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var final, unexpected string
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), "-final.yaml"):
			final = filepath.Join(dir, e.Name())
		case strings.HasSuffix(e.Name(), "-unexpected-data.yaml"):
			unexpected = filepath.Join(dir, e.Name())
		}
	}
	require.NotEmpty(t, final)
	require.NotEmpty(t, unexpected)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, 2, decoded["added"])
	assert.Equal(t, "update", decoded["importMode"])

	data, err = os.ReadFile(unexpected)
	require.NoError(t, err)
	assert.Contains(t, string(data), "covv_new")
}

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, interface{}) error {
	return errors.New("smtp unavailable")
}

type recordingNotifier struct {
	reports []interface{}
}

func (r *recordingNotifier) Send(_ context.Context, report interface{}) error {
	r.reports = append(r.reports, report)
	return nil
}

func TestMultiNotifier(t *testing.T) {
	recorder := &recordingNotifier{}
	m := MultiNotifier{failingNotifier{}, recorder, failingNotifier{}}

	err := m.Send(context.Background(), finalReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Len(t, recorder.reports, 1)

	assert.NoError(t, MultiNotifier{recorder}.Send(context.Background(), finalReport()))
}
