package registry

import (
	"errors"
	"fmt"

	"github.com/perfgo/semitest/executor"
)

// InitFunc runs before every test body. Its result is passed to the body as
// state.
type InitFunc func() (any, error)

// AsyncInitFunc is an InitFunc that runs on the executor.
type AsyncInitFunc func(t *executor.Task) (any, error)

// Registry is the immutable table of tests compiled into one image.
type Registry struct {
	version   uint32
	tests     []Descriptor
	byShort   map[string]int
	init      InitFunc
	asyncInit AsyncInitFunc
	capacity  int
}

// Version returns the protocol version the registry was built for.
func (r *Registry) Version() uint32 {
	return r.version
}

// Len returns the number of registered tests.
func (r *Registry) Len() int {
	return len(r.tests)
}

// Tests returns the descriptors in declaration order. The slice must not be
// modified.
func (r *Registry) Tests() []Descriptor {
	return r.tests
}

// Lookup finds a test by its short name, i.e. the name as it appears in the
// list handed to the host.
func (r *Registry) Lookup(short string) (*Descriptor, bool) {
	i, ok := r.byShort[short]
	if !ok {
		return nil, false
	}
	return &r.tests[i], true
}

// Init returns the synchronous and asynchronous init hooks. At most one is
// non-nil.
func (r *Registry) Init() (InitFunc, AsyncInitFunc) {
	return r.init, r.asyncInit
}

// Builder collects descriptors and produces a Registry.
type Builder struct {
	crate     string
	tests     []Descriptor
	init      InitFunc
	asyncInit AsyncInitFunc
}

// NewBuilder starts a registry whose test names are rooted at crate.
func NewBuilder(crate string) *Builder {
	return &Builder{crate: crate}
}

// Add appends a descriptor with a fully qualified name.
func (b *Builder) Add(d Descriptor) *Builder {
	b.tests = append(b.tests, d)
	return b
}

// WithInit sets the hook run before every test.
func (b *Builder) WithInit(fn InitFunc) *Builder {
	b.init = fn
	return b
}

// WithAsyncInit sets an init hook that runs on the executor.
func (b *Builder) WithAsyncInit(fn AsyncInitFunc) *Builder {
	b.asyncInit = fn
	return b
}

// Module returns a scope that registers tests under crate::path.
func (b *Builder) Module(path string) *Module {
	return &Module{b: b, prefix: b.crate + "::" + path}
}

// Build validates the collected tests and freezes them.
func (b *Builder) Build() (*Registry, error) {
	if b.init != nil && b.asyncInit != nil {
		return nil, errors.New("registry: both sync and async init hooks set")
	}
	r := &Registry{
		version:   ProtocolVersion,
		tests:     make([]Descriptor, len(b.tests)),
		byShort:   make(map[string]int, len(b.tests)),
		init:      b.init,
		asyncInit: b.asyncInit,
	}
	copy(r.tests, b.tests)

	full := make(map[string]bool, len(r.tests))
	for i := range r.tests {
		d := &r.tests[i]
		if (d.Func == nil) == (d.AsyncFunc == nil) {
			return nil, fmt.Errorf("registry: test %q must have exactly one body", d.Name)
		}
		short, ok := ShortName(d.Name)
		if !ok || short == "" {
			return nil, fmt.Errorf("registry: test name %q is not qualified with a crate", d.Name)
		}
		if full[d.Name] {
			return nil, fmt.Errorf("registry: duplicate test %q", d.Name)
		}
		full[d.Name] = true
		if _, dup := r.byShort[short]; dup {
			return nil, fmt.Errorf("registry: duplicate test name %q after stripping crate", short)
		}
		r.byShort[short] = i
	}

	r.capacity = listCapacity(r.tests)
	return r, nil
}

// MustBuild is Build for statically known tables.
func (b *Builder) MustBuild() *Registry {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Module registers tests below a common path.
type Module struct {
	b      *Builder
	prefix string
}

// TestOption adjusts a descriptor created by Module.Test.
type TestOption func(*Descriptor)

// ShouldFail marks the test as expected to fail.
func ShouldFail() TestOption {
	return func(d *Descriptor) { d.ShouldFail = true }
}

// Ignore excludes the test from default runs.
func Ignore() TestOption {
	return func(d *Descriptor) { d.Ignored = true }
}

// Timeout overrides the host's default timeout.
func Timeout(seconds uint32) TestOption {
	return func(d *Descriptor) { d.Timeout = Seconds(seconds) }
}

// Test registers a synchronous test.
func (m *Module) Test(name string, fn Func, opts ...TestOption) *Module {
	d := Descriptor{Name: m.prefix + "::" + name, Func: fn}
	for _, opt := range opts {
		opt(&d)
	}
	m.b.Add(d)
	return m
}

// AsyncTest registers a test that runs on the executor.
func (m *Module) AsyncTest(name string, fn AsyncFunc, opts ...TestOption) *Module {
	d := Descriptor{Name: m.prefix + "::" + name, AsyncFunc: fn}
	for _, opt := range opts {
		opt(&d)
	}
	m.b.Add(d)
	return m
}
