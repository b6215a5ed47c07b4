package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImageEvent(t *testing.T) {
	for _, tc := range []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{name: "write", ev: fsnotify.Event{Name: "build/tests.elf", Op: fsnotify.Write}, want: true},
		{name: "create", ev: fsnotify.Event{Name: "build/./tests.elf", Op: fsnotify.Create}, want: true},
		{name: "chmod", ev: fsnotify.Event{Name: "build/tests.elf", Op: fsnotify.Chmod}},
		{name: "other file", ev: fsnotify.Event{Name: "build/tests.map", Op: fsnotify.Write}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isImageEvent(tc.ev, "build/tests.elf"))
		})
	}
}

func TestWatchImageReruns(t *testing.T) {
	a := &App{logger: zerolog.Nop()}
	path := filepath.Join(t.TempDir(), "tests.elf")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- a.watchImage(ctx, path, func(context.Context) { runs <- struct{}{} })
	}()

	<-runs
	// The watch is in place before the first run.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	select {
	case <-runs:
	case <-ctx.Done():
		t.Fatal("no rerun after the image changed")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchSimulatedImage(t *testing.T) {
	a := &App{logger: zerolog.Nop()}
	err := a.watchImage(context.Background(), "sim:demo", func(context.Context) {})
	assert.Error(t, err)
}
