package device

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry resolves devices by name. It holds both plain devices and
// runnable devices; the two share one namespace.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]Device
	runnables map[string]RunnableDevice
}

func NewRegistry() *Registry {
	return &Registry{
		devices:   make(map[string]Device),
		runnables: make(map[string]RunnableDevice),
	}
}

// Register adds d. Names must be unique.
func (r *Registry) Register(d Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFree(d.Name()); err != nil {
		return err
	}
	r.devices[d.Name()] = d
	return nil
}

// RegisterRunnable adds d. Names must be unique.
func (r *Registry) RegisterRunnable(d RunnableDevice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFree(d.Name()); err != nil {
		return err
	}
	r.runnables[d.Name()] = d
	return nil
}

func (r *Registry) checkFree(name string) error {
	if name == "" {
		return fmt.Errorf("device name must not be empty")
	}
	_, dev := r.devices[name]
	_, run := r.runnables[name]
	if dev || run {
		return fmt.Errorf("device %q already registered", name)
	}
	return nil
}

// Device returns the device called name.
func (r *Registry) Device(name string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d, nil
}

// Runnable returns the runnable device called name.
func (r *Registry) Runnable(name string) (RunnableDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.runnables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d, nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.devices)+len(r.runnables))
	for n := range r.devices {
		names = append(names, n)
	}
	for n := range r.runnables {
		names = append(names, n)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Runnables returns the runnable devices sorted by name.
func (r *Registry) Runnables() []RunnableDevice {
	r.mu.RLock()
	out := make([]RunnableDevice, 0, len(r.runnables))
	for _, d := range r.runnables {
		out = append(out, d)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b RunnableDevice) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

var _ Resolver = (*Registry)(nil)
