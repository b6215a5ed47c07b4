package orchestrator

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/perfgo/semitest/registry"
)

var selectList = registry.List{
	Version: registry.ProtocolVersion,
	Tests: []registry.Entry{
		{Name: "net::connects"},
		{Name: "net::connects_twice"},
		{Name: "net::slow", Ignored: true},
		{Name: "fs::mounts"},
	},
}

func TestSelect(t *testing.T) {
	for _, tc := range []struct {
		name         string
		sel          Selection
		want         []string
		wantRun      []string
		wantFiltered int
	}{
		{
			name:    "default",
			want:    []string{"net::connects", "net::connects_twice", "net::slow", "fs::mounts"},
			wantRun: []string{"net::connects", "net::connects_twice", "fs::mounts"},
		},
		{
			name:         "substring filter",
			sel:          Selection{Filters: []string{"connects"}},
			want:         []string{"net::connects", "net::connects_twice"},
			wantRun:      []string{"net::connects", "net::connects_twice"},
			wantFiltered: 2,
		},
		{
			name:         "exact filter",
			sel:          Selection{Filters: []string{"net::connects"}, Exact: true},
			want:         []string{"net::connects"},
			wantRun:      []string{"net::connects"},
			wantFiltered: 3,
		},
		{
			name:         "skip",
			sel:          Selection{Filters: []string{"net"}, Skip: []string{"twice"}},
			want:         []string{"net::connects", "net::slow"},
			wantRun:      []string{"net::connects"},
			wantFiltered: 2,
		},
		{
			name:         "only ignored",
			sel:          Selection{Ignored: true},
			want:         []string{"net::slow"},
			wantRun:      []string{"net::slow"},
			wantFiltered: 3,
		},
		{
			name:    "include ignored",
			sel:     Selection{IncludeIgnored: true},
			want:    []string{"net::connects", "net::connects_twice", "net::slow", "fs::mounts"},
			wantRun: []string{"net::connects", "net::connects_twice", "net::slow", "fs::mounts"},
		},
		{
			name:         "ignored test named exactly",
			sel:          Selection{Filters: []string{"net::slow"}, Exact: true},
			want:         []string{"net::slow"},
			wantRun:      []string{"net::slow"},
			wantFiltered: 3,
		},
		{
			name:         "ignored test matched by substring",
			sel:          Selection{Filters: []string{"slow"}},
			want:         []string{"net::slow"},
			wantFiltered: 3,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			planned, filtered := Select(selectList, tc.sel)
			var got, run []string
			for _, p := range planned {
				got = append(got, p.Entry.Name)
				if p.Run {
					run = append(run, p.Entry.Name)
				}
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("selected tests mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantRun, run); diff != "" {
				t.Errorf("executed tests mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tc.wantFiltered, filtered)
		})
	}
}

func TestWriteSummary(t *testing.T) {
	r := &Report{
		Results: []Result{
			{Name: "a", Kind: Passed},
			{Name: "b", Kind: Failed, ExitCode: 1, Log: "ERR Test failed outcome=\"panic: boom\"\n"},
			{Name: "c", Kind: TimedOut, Message: "no result within 3s"},
			{Name: "d", Kind: Ignored},
		},
		Filtered: 2,
		Duration: 1500 * time.Millisecond,
	}
	var out bytes.Buffer
	r.WriteSummary(&out)

	want := `
failures:

---- b stdout ----
target exited with code 1
ERR Test failed outcome="panic: boom"

---- c stdout ----
timeout: no result within 3s

failures:
    b
    c

test result: FAILED. 1 passed; 2 failed; 1 ignored; 0 measured; 2 filtered out; finished in 1.50s

`
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 101, r.ExitCode())
}

func TestWriteList(t *testing.T) {
	planned, _ := Select(selectList, Selection{Filters: []string{"net"}})
	var out bytes.Buffer
	WriteList(&out, planned)
	assert.Equal(t, "net::connects: test\nnet::connects_twice: test\nnet::slow: test\n\n3 tests, 0 benchmarks\n", out.String())
}
