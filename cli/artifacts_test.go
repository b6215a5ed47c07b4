package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/semitest/image"
	"github.com/perfgo/semitest/model"
	"github.com/perfgo/semitest/orchestrator"
)

func TestLogFileName(t *testing.T) {
	assert.Equal(t, filepath.Join("logs", "unit_tests.it_fails1.log"), logFileName("unit_tests::it_fails1"))
	assert.Equal(t, filepath.Join("logs", "a_b_.c.log"), logFileName("a b/::c"))
}

func TestBuildTimingProfile(t *testing.T) {
	results := []orchestrator.Result{
		{Name: "unit_tests::a", Kind: orchestrator.Passed, Duration: 2 * time.Millisecond},
		{Name: "unit_tests::b", Kind: orchestrator.Failed, Duration: 3 * time.Millisecond},
		{Name: "unit_tests::c", Kind: orchestrator.Ignored},
		{Name: "top", Kind: orchestrator.TimedOut, Duration: time.Second},
	}

	prof := buildTimingProfile(results)
	require.NoError(t, prof.CheckValid())
	require.Len(t, prof.Sample, 3)

	// unit_tests::a, unit_tests, unit_tests::b, top
	assert.Len(t, prof.Function, 4)
	assert.Len(t, prof.Location, 4)

	leaf := prof.Sample[1].Location[0].Line[0].Function.Name
	caller := prof.Sample[1].Location[1].Line[0].Function.Name
	assert.Equal(t, "unit_tests::b", leaf)
	assert.Equal(t, "unit_tests", caller)
	assert.Equal(t, []int64{int64(3 * time.Millisecond)}, prof.Sample[1].Value)
	assert.Equal(t, []string{"FAILED"}, prof.Sample[1].Label["result"])
	assert.Len(t, prof.Sample[2].Location, 1)

	// Survives an encode/parse cycle.
	var buf bytes.Buffer
	require.NoError(t, prof.Write(&buf))
	parsed, err := profile.Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, 3)
}

func TestSaveRunArtifacts(t *testing.T) {
	a := &App{logger: zerolog.Nop()}
	runDir := t.TempDir()

	report := &orchestrator.Report{Results: []orchestrator.Result{
		{Name: "m::ok", Kind: orchestrator.Passed, Duration: time.Millisecond},
		{Name: "m::bad", Kind: orchestrator.Failed, Duration: time.Millisecond, ExitCode: 1, Log: "panicked\n"},
	}}
	h := &model.History{Test: &model.TestRun{Results: testResults(report.Results)}}

	a.saveRunArtifacts(runDir, h, report, []byte("running 2 tests\n"))

	data, err := os.ReadFile(filepath.Join(runDir, reportFile))
	require.NoError(t, err)
	assert.Equal(t, "running 2 tests\n", string(data))

	assert.Empty(t, h.Test.Results[0].LogFile)
	require.Equal(t, logFileName("m::bad"), h.Test.Results[1].LogFile)
	data, err = os.ReadFile(filepath.Join(runDir, h.Test.Results[1].LogFile))
	require.NoError(t, err)
	assert.Equal(t, "panicked\n", string(data))

	var types []model.ArtifactType
	for _, art := range h.Artifacts {
		types = append(types, art.Type)
	}
	assert.Equal(t, []model.ArtifactType{
		model.ArtifactTypeReport,
		model.ArtifactTypeTargetLog,
		model.ArtifactTypeTimingProfile,
	}, types)

	f, err := os.Open(filepath.Join(runDir, timingProfileFile))
	require.NoError(t, err)
	defer f.Close()
	prof, err := profile.Parse(f)
	require.NoError(t, err)
	assert.Len(t, prof.Sample, 2)
}

func TestSaveImage(t *testing.T) {
	a := &App{logger: zerolog.Nop()}
	runDir := t.TempDir()
	h := &model.History{}

	a.saveImage(runDir, h, &image.Image{Path: "sim:demo"})
	assert.Empty(t, h.Artifacts)

	a.saveImage(runDir, h, &image.Image{Path: "build/tests.elf", Data: []byte("\x7fELF")})
	require.Len(t, h.Artifacts, 1)
	assert.Equal(t, model.ArtifactTypeImage, h.Artifacts[0].Type)
	assert.Contains(t, h.Artifacts[0].File, ".tests.elf.image")
	data, err := os.ReadFile(filepath.Join(runDir, h.Artifacts[0].File))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x7fELF"), data)
}
