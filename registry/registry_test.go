package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/semitest/executor"
)

func ok(any) error { return nil }

func TestBuilderNames(t *testing.T) {
	b := NewBuilder("demo")
	b.Module("tests").
		Test("a", ok).
		Test("b", ok, ShouldFail(), Timeout(3))
	b.Module("other").Test("a", ok, Ignore())
	reg, err := b.Build()
	require.NoError(t, err)

	require.Equal(t, 3, reg.Len())
	assert.Equal(t, "demo::tests::a", reg.Tests()[0].Name)
	assert.Equal(t, "tests::a", reg.Tests()[0].ShortName())

	d, found := reg.Lookup("tests::b")
	require.True(t, found)
	assert.True(t, d.ShouldFail)
	require.NotNil(t, d.Timeout)
	assert.Equal(t, uint32(3), *d.Timeout)

	d, found = reg.Lookup("other::a")
	require.True(t, found)
	assert.True(t, d.Ignored)

	_, found = reg.Lookup("demo::tests::a")
	assert.False(t, found, "lookup is by short name")
}

func TestBuilderRejects(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func() *Builder
	}{
		{
			name: "duplicate full name",
			build: func() *Builder {
				b := NewBuilder("demo")
				b.Module("tests").Test("a", ok).Test("a", ok)
				return b
			},
		},
		{
			name: "duplicate short name",
			build: func() *Builder {
				return NewBuilder("x").
					Add(Descriptor{Name: "one::tests::a", Func: ok}).
					Add(Descriptor{Name: "two::tests::a", Func: ok})
			},
		},
		{
			name: "unqualified name",
			build: func() *Builder {
				return NewBuilder("x").Add(Descriptor{Name: "a", Func: ok})
			},
		},
		{
			name: "no body",
			build: func() *Builder {
				return NewBuilder("x").Add(Descriptor{Name: "x::a"})
			},
		},
		{
			name: "two bodies",
			build: func() *Builder {
				return NewBuilder("x").Add(Descriptor{
					Name:      "x::a",
					Func:      ok,
					AsyncFunc: func(*executor.Task, any) error { return nil },
				})
			},
		},
		{
			name: "two init hooks",
			build: func() *Builder {
				return NewBuilder("x").
					WithInit(func() (any, error) { return nil, nil }).
					WithAsyncInit(func(*executor.Task) (any, error) { return nil, nil })
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build().Build()
			assert.Error(t, err)
		})
	}
}

func TestPassedIsXOR(t *testing.T) {
	for _, tc := range []struct {
		outcome    Outcome
		shouldFail bool
		want       bool
	}{
		{Success(), false, true},
		{Failure("boom"), false, false},
		{Failure("boom"), true, true},
		{Success(), true, false},
	} {
		assert.Equal(t, tc.want, Passed(tc.outcome, tc.shouldFail), "%v shouldFail=%v", tc.outcome, tc.shouldFail)
	}
}

func TestOutcomeAdapters(t *testing.T) {
	assert.True(t, FromError(nil).IsSuccess())
	o := FromError(errors.New("bad value"))
	assert.False(t, o.IsSuccess())
	assert.Equal(t, "bad value", o.Description())
	assert.Equal(t, "panic: assertion failed", FromPanic("assertion failed").Description())
}
