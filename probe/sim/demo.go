package sim

// This file contains the built-in "sim:demo" image: a small suite with one
// test for every outcome the runner distinguishes.

import (
	"errors"
	"fmt"

	"github.com/perfgo/semitest/executor"
	"github.com/perfgo/semitest/registry"
)

// DemoImage is the path of the built-in demo image.
const DemoImage = ImagePrefix + "demo"

// Peripherals stands in for the device handle an init hook hands to tests.
type Peripherals struct {
	Name string
}

// DemoRegistry returns the tests of the demo image.
func DemoRegistry() *registry.Registry {
	b := registry.NewBuilder("example_test").
		WithAsyncInit(func(t *executor.Task) (any, error) {
			t.Yield()
			return &Peripherals{Name: "sim0"}, nil
		})
	b.Module("unit_tests").
		AsyncTest("takes_state", func(_ *executor.Task, state any) error {
			if _, ok := state.(*Peripherals); !ok {
				return fmt.Errorf("unexpected state %T", state)
			}
			return nil
		}).
		Test("it_works_ignored", func(any) error {
			panic("assertion failed: false")
		}, registry.Ignore()).
		Test("it_fails1", func(any) error {
			panic("assertion failed: false")
		}).
		Test("it_fails2", func(any) error {
			return errors.New("It failed because ...")
		}).
		Test("it_passes", func(any) error {
			panic("assertion failed: false")
		}, registry.ShouldFail()).
		Test("it_fails3", func(any) error { return nil }, registry.ShouldFail()).
		Test("it_timeouts", func(any) error {
			select {}
		}, registry.Timeout(3))
	return b.MustBuild()
}

func init() {
	Register("demo", RegistryProgram(DemoRegistry()))
}
