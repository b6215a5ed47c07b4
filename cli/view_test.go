package cli

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/semitest/history"
	"github.com/perfgo/semitest/model"
)

func TestRemoveFirstDashDash(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "empty slice",
			in:   []string{},
			want: []string{},
		},
		{
			name: "starts with --",
			in:   []string{"--", "-http=:8080", "-top"},
			want: []string{"-http=:8080", "-top"},
		},
		{
			name: "no --",
			in:   []string{"-http=:8080", "-top"},
			want: []string{"-http=:8080", "-top"},
		},
		{
			name: "only --",
			in:   []string{"--"},
			want: []string{},
		},
		{
			name: "-- in middle",
			in:   []string{"-top", "--", "-http=:8080"},
			want: []string{"-top", "--", "-http=:8080"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := removeFirstDashDash(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("removeFirstDashDash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseViewArgs(t *testing.T) {
	tests := []struct {
		name          string
		in            []string
		wantID        string
		wantPprofArgs []string
	}{
		{
			name:          "empty args - default to 0",
			in:            []string{},
			wantID:        "0",
			wantPprofArgs: nil,
		},
		{
			name:          "only ID - index 0",
			in:            []string{"0"},
			wantID:        "0",
			wantPprofArgs: []string{},
		},
		{
			name:          "only ID - negative index",
			in:            []string{"-1"},
			wantID:        "-1",
			wantPprofArgs: []string{},
		},
		{
			name:          "only ID - hex string",
			in:            []string{"abc123"},
			wantID:        "abc123",
			wantPprofArgs: []string{},
		},
		{
			name:          "only pprof args",
			in:            []string{"-http=:8080"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080"},
		},
		{
			name:          "ID with pprof args",
			in:            []string{"0", "-http=:8080"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080"},
		},
		{
			name:          "ID with -- separator and pprof args",
			in:            []string{"0", "--", "-http=:8080", "-top"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080", "-top"},
		},
		{
			name:          "negative index with -- and pprof args",
			in:            []string{"-1", "--", "-top"},
			wantID:        "-1",
			wantPprofArgs: []string{"-top"},
		},
		{
			name:          "hex ID with pprof args no separator",
			in:            []string{"abc123", "-list=main"},
			wantID:        "abc123",
			wantPprofArgs: []string{"-list=main"},
		},
		{
			name:          "only -- uses default 0",
			in:            []string{"--", "-http=:8080"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080"},
		},
		{
			name:          "negative index with multiple pprof args",
			in:            []string{"-2", "-http=:8080", "-nodefraction=0.1"},
			wantID:        "-2",
			wantPprofArgs: []string{"-http=:8080", "-nodefraction=0.1"},
		},
		{
			name:          "ID 0 with -- and multiple pprof args",
			in:            []string{"0", "--", "-http=:8080", "-top", "-cum"},
			wantID:        "0",
			wantPprofArgs: []string{"-http=:8080", "-top", "-cum"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotPprofArgs := parseViewArgs(tt.in)
			if gotID != tt.wantID {
				t.Errorf("parseViewArgs() gotID = %v, want %v", gotID, tt.wantID)
			}
			if !reflect.DeepEqual(gotPprofArgs, tt.wantPprofArgs) {
				t.Errorf("parseViewArgs() gotPprofArgs = %v, want %v", gotPprofArgs, tt.wantPprofArgs)
			}
		})
	}
}

func TestWriteTestResults(t *testing.T) {
	var buf bytes.Buffer
	writeTestResults(&buf, "/runs/x", &model.TestRun{Results: []model.TestResult{
		{Name: "m::ok", Result: "ok", Duration: 1500 * time.Microsecond},
		{Name: "m::hang", Result: "timeout", Duration: 3 * time.Second, Message: "no result within 3s", LogFile: "logs/m.hang.log"},
		{Name: "m::listed"},
	}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^m::ok\s+ok\s+2ms$`, lines[0])
	assert.Regexp(t, `^m::hang\s+timeout\s+3s\s+no result within 3s\s+/runs/x/logs/m\.hang\.log$`, lines[1])
	assert.Regexp(t, `^m::listed\s+listed\s+0s$`, lines[2])
}

func TestWriteHistoryEntry(t *testing.T) {
	var buf bytes.Buffer
	writeHistoryEntry(&buf, history.Entry{
		FullPath: "/repo/.semitest/history/run",
		History: model.History{
			ID:        "0123456789abcdef",
			Type:      model.HistoryTypeTest,
			Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
			Args:      []string{"semitest", "test", "sim:demo"},
			ExitCode:  101,
			Target:    &model.Target{Probe: "sim", Arch: "riscv32", Image: "sim:demo"},
			Test: &model.TestRun{Filtered: 1, Results: []model.TestResult{
				{Result: "ok"}, {Result: "FAILED"}, {Result: "ignored"},
			}},
			Artifacts: []model.Artifact{{Type: model.ArtifactTypeReport, File: "report.txt", Size: 2048}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "✗  2026-03-04 05:06:07")
	assert.Contains(t, out, "exit=101  id=01234567")
	assert.Contains(t, out, "   Args: test sim:demo\n")
	assert.Contains(t, out, "   Target: sim (riscv32) sim:demo\n")
	assert.Contains(t, out, "   Tests: 1 passed; 1 failed; 1 ignored; 1 filtered out\n")
	assert.Contains(t, out, "   report: report.txt (2.0 KB)\n")
}
