// Package workload holds the benchmark computations. Each one runs unchanged
// natively (baseline) and inside a guest image, so the two paths can be
// compared byte for byte.
package workload

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidInput marks input outside a workload's domain.
var ErrInvalidInput = errors.New("workload: invalid input")

// Workload is a deterministic function of its input.
type Workload interface {
	Name() string
	Run(input []byte) ([]byte, error)
}

// Generator produces a representative input of roughly the given size.
// The meaning of size is workload specific.
type Generator interface {
	Generate(size int) ([]byte, error)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Registry maps workload names to implementations.
type Registry struct {
	workloads map[string]Workload
}

// NewRegistry creates a registry holding ws.
func NewRegistry(ws ...Workload) (*Registry, error) {
	r := &Registry{workloads: make(map[string]Workload)}
	for _, w := range ws {
		if err := r.Register(w); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns a registry with every built-in workload.
func Default() *Registry {
	r, err := NewRegistry(Echo{}, Bzip2{}, Hmmer{}, MCF{})
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds w. Names are unique.
func (r *Registry) Register(w Workload) error {
	if w == nil || w.Name() == "" {
		return errors.New("workload: unnamed workload")
	}
	if _, ok := r.workloads[w.Name()]; ok {
		return fmt.Errorf("workload: %q already registered", w.Name())
	}
	r.workloads[w.Name()] = w
	return nil
}

// Get returns the workload registered under name.
func (r *Registry) Get(name string) (Workload, error) {
	w, ok := r.workloads[name]
	if !ok {
		return nil, fmt.Errorf("workload: unknown workload %q (have %v)", name, r.List())
	}
	return w, nil
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.workloads))
	for name := range r.workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate builds an input for the named workload.
func (r *Registry) Generate(name string, size int) ([]byte, error) {
	w, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	g, ok := w.(Generator)
	if !ok {
		return nil, fmt.Errorf("workload: %q cannot generate inputs", name)
	}
	return g.Generate(size)
}
