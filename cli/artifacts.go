package cli

// This file contains artifact management functionality for saving images,
// reports, target logs and timing profiles to the history directory.

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/perfgo/semitest/image"
	"github.com/perfgo/semitest/model"
	"github.com/perfgo/semitest/orchestrator"
)

const (
	timingProfileFile = "timing.pb.gz"
	reportFile        = "report.txt"
	logDir            = "logs"
)

func (a *App) addArtifact(h *model.History, t model.ArtifactType, file string, size int) {
	h.Artifacts = append(h.Artifacts, model.Artifact{
		Type: t,
		Size: uint64(size),
		File: file,
	})
}

// saveImage archives the flashed image under a content hash name.
func (a *App) saveImage(runDir string, h *model.History, img *image.Image) {
	if img.Simulated() || len(img.Data) == 0 {
		return
	}

	// Calculate SHA256 hash
	hashBytes := sha256.Sum256(img.Data)
	hash := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(hashBytes[:]))

	// Construct filename with hash and original basename
	imageFilename := hash + "." + filepath.Base(img.Path) + ".image"
	if err := os.WriteFile(filepath.Join(runDir, imageFilename), img.Data, 0644); err != nil {
		a.logger.Warn().Err(err).Str("file", img.Path).Msg("Failed to write image")
		return
	}
	a.addArtifact(h, model.ArtifactTypeImage, imageFilename, len(img.Data))
	a.logger.Debug().
		Str("hash", hash).
		Str("dest", imageFilename).
		Msg("Saved image")
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// logFileName maps a test name onto a file name below logs/.
func logFileName(name string) string {
	name = strings.ReplaceAll(name, "::", ".")
	return filepath.Join(logDir, unsafeFileChars.ReplaceAllString(name, "_")+".log")
}

// saveRunArtifacts writes the libtest report, every captured target log and
// the timing profile. Failures are logged, not returned.
func (a *App) saveRunArtifacts(runDir string, h *model.History, report *orchestrator.Report, output []byte) {
	if err := os.WriteFile(filepath.Join(runDir, reportFile), output, 0644); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to write report")
	} else {
		a.addArtifact(h, model.ArtifactTypeReport, reportFile, len(output))
	}

	if err := os.MkdirAll(filepath.Join(runDir, logDir), 0755); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to create log directory")
	} else {
		for i, r := range report.Results {
			if r.Log == "" {
				continue
			}
			file := logFileName(r.Name)
			if err := os.WriteFile(filepath.Join(runDir, file), []byte(r.Log), 0644); err != nil {
				a.logger.Warn().Err(err).Str("test", r.Name).Msg("Failed to write target log")
				continue
			}
			h.Test.Results[i].LogFile = file
			a.addArtifact(h, model.ArtifactTypeTargetLog, file, len(r.Log))
		}
	}

	prof := buildTimingProfile(report.Results)
	if len(prof.Sample) == 0 {
		return
	}
	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to encode timing profile")
		return
	}
	if err := os.WriteFile(filepath.Join(runDir, timingProfileFile), buf.Bytes(), 0644); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to write timing profile")
		return
	}
	a.addArtifact(h, model.ArtifactTypeTimingProfile, timingProfileFile, buf.Len())
	a.logger.Debug().Str("profile", timingProfileFile).Int("samples", len(prof.Sample)).Msg("Saved timing profile")
}

// buildTimingProfile returns a wall-time profile with one sample per
// executed test. Module path segments become caller frames so pprof
// aggregates by module.
func buildTimingProfile(results []orchestrator.Result) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "wall", Unit: "nanoseconds"}},
		PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:     1,
	}

	functions := map[string]*profile.Function{}
	locations := map[string]*profile.Location{}
	location := func(name string) *profile.Location {
		if loc, ok := locations[name]; ok {
			return loc
		}
		fn, ok := functions[name]
		if !ok {
			fn = &profile.Function{ID: uint64(len(prof.Function) + 1), Name: name, SystemName: name}
			functions[name] = fn
			prof.Function = append(prof.Function, fn)
		}
		loc := &profile.Location{
			ID:   uint64(len(prof.Location) + 1),
			Line: []profile.Line{{Function: fn}},
		}
		locations[name] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	for _, r := range results {
		if r.Kind == orchestrator.Ignored {
			continue
		}
		segments := strings.Split(r.Name, "::")
		var stack []*profile.Location
		for i := len(segments); i > 0; i-- {
			stack = append(stack, location(strings.Join(segments[:i], "::")))
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{r.Duration.Nanoseconds()},
			Label:    map[string][]string{"result": {r.Kind.String()}},
		})
	}
	return prof
}

func formatSize(size uint64) string {
	return fmt.Sprintf("%.1f KB", float64(size)/1024)
}
