package cli

// This file contains argument processing for the libtest-style arguments
// that follow the image on the test command line.

import (
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/perfgo/semitest/orchestrator"
)

type testArgs struct {
	Selection orchestrator.Selection
	// List prints the selected tests instead of running them.
	List bool
}

// Flags accepted for compatibility. Tests always run one at a time with
// their output captured.
var ignoredTestFlags = map[string]bool{
	"--nocapture":    true,
	"--show-output":  true,
	"--quiet":        true,
	"-q":             true,
	"--test":         true,
	"--test-threads": true,
}

func parseTestArgs(args []string) (testArgs, error) {
	var ta testArgs

	// remove -- if given as separator
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// Everything after a later -- is a filter
		if arg == "--" {
			ta.Selection.Filters = append(ta.Selection.Filters, args[i+1:]...)
			break
		}

		if !strings.HasPrefix(arg, "-") {
			ta.Selection.Filters = append(ta.Selection.Filters, arg)
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--exact":
			ta.Selection.Exact = true
		case "--ignored":
			ta.Selection.Ignored = true
		case "--include-ignored":
			ta.Selection.IncludeIgnored = true
		case "--list":
			ta.List = true
		case "--skip":
			if !hasValue {
				if i+1 >= len(args) {
					return ta, fmt.Errorf("--skip requires a value")
				}
				i++
				value = args[i]
			}
			ta.Selection.Skip = append(ta.Selection.Skip, value)
		case "--test-threads":
			if !hasValue {
				i++
			}
		default:
			if !ignoredTestFlags[name] {
				return ta, fmt.Errorf("unsupported test argument %q", arg)
			}
		}
	}

	if ta.Selection.Ignored && ta.Selection.IncludeIgnored {
		return ta, fmt.Errorf("--ignored and --include-ignored are mutually exclusive")
	}
	return ta, nil
}

// rerunCommand returns a shell command that runs only the named test, given
// the command line up to and including the image.
func rerunCommand(prefix []string, name string) string {
	args := make([]string, 0, len(prefix)+3)
	args = append(args, prefix...)
	args = append(args, "--exact", "--", name)
	return shellescape.QuoteCommand(args)
}
