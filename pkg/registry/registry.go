// Package registry maps job types to the modules that execute them. It is
// the single source of truth for the job types exposed to external
// collaborators: the executor resolves modules here and collaborators list
// metadata from here. Modules are validated at registration with a contract
// probe; non-compliant modules are rejected and never become callable.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/netraven-io/netraven/pkg/driver"
	"github.com/netraven-io/netraven/pkg/logpipe"
	"github.com/netraven-io/netraven/pkg/model"
	"github.com/netraven-io/netraven/pkg/store"
	"github.com/netraven-io/netraven/pkg/util"
)

// Built-in job type names.
const (
	TypeReachability = "reachability"
	TypeConfigBackup = "config_backup"
)

// probeDeviceID marks the contract probe's dummy device. Real device ids
// are positive.
const probeDeviceID = -1

const probeTimeout = 5 * time.Second

// Meta describes a job type for external collaborators.
type Meta struct {
	Label       string `json:"label"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// RunInput carries everything a module may need for one device execution.
// Store is nil during the registration probe; modules must short-circuit to
// a compliant result without touching it.
type RunInput struct {
	JobID  int64
	Job    *model.Job
	Device *model.DeviceWithCredential
	Store  *store.Store
	Driver driver.Driver
	Logs   *logpipe.Pipeline
}

// IsProbe reports whether this invocation is the registration contract
// probe rather than a real execution.
func (in RunInput) IsProbe() bool {
	return in.Store == nil
}

// Log emits a record when a pipeline is attached. Modules log through this
// so direct invocations and the contract probe need no pipeline.
func (in RunInput) Log(record *model.LogRecord) {
	if in.Logs != nil {
		in.Logs.Log(record)
	}
}

// Module executes one job type against one device. Run must always return
// a result carrying the input device's id; errors are reported through the
// result, never by panicking.
type Module interface {
	Meta() Meta
	Run(ctx context.Context, in RunInput) *model.JobResult
}

// Info pairs a registered job type name with its metadata.
type Info struct {
	Name string `json:"name"`
	Meta
}

// Registry holds the registered job-type modules.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// New creates an empty registry
func New() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Default returns a registry with the built-in job types registered.
func Default() *Registry {
	r := New()
	r.MustRegister(TypeReachability, &Reachability{})
	r.MustRegister(TypeConfigBackup, &ConfigBackup{})
	return r
}

// Register validates a module and adds it under the given name. Duplicate
// names and contract violations fail registration; the module stays out of
// the registry either way.
func (r *Registry) Register(name string, m Module) error {
	if name == "" {
		return fmt.Errorf("job type name is required")
	}
	if m == nil {
		return fmt.Errorf("job type %q: module is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; exists {
		util.Errorf("registry: job type %q already registered", name)
		return fmt.Errorf("job type %q already registered", name)
	}
	if err := probeModule(m); err != nil {
		util.Errorf("registry: job type %q rejected: %v", name, err)
		return fmt.Errorf("job type %q: %w", name, err)
	}
	r.modules[name] = m
	return nil
}

// MustRegister is Register for compile-time known modules; it panics on
// failure the way database/sql.Register does.
func (r *Registry) MustRegister(name string, m Module) {
	if err := r.Register(name, m); err != nil {
		panic(err)
	}
}

// Get returns the module registered under name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// List returns metadata for all registered job types, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.modules))
	for name, m := range r.modules {
		infos = append(infos, Info{Name: name, Meta: m.Meta()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// probeModule invokes Run with a dummy device and no store. The module must
// return a result echoing the probed device id without side effects; the
// probe is the registration-time enforcement of the Module contract.
func probeModule(m Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("contract probe panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	result := m.Run(ctx, RunInput{Device: probeDevice()})
	if result == nil {
		return fmt.Errorf("contract probe returned no result")
	}
	if result.DeviceID != probeDeviceID {
		return fmt.Errorf("contract probe result does not carry the probed device id")
	}
	return nil
}

// probeDevice builds the dummy target for contract probes. The address is
// from TEST-NET-1, never routable.
func probeDevice() *model.DeviceWithCredential {
	return &model.DeviceWithCredential{
		Device: &model.Device{
			ID:         probeDeviceID,
			Hostname:   "contract-probe",
			IPAddress:  "192.0.2.1",
			DeviceType: "unknown",
			Port:       model.DefaultSSHPort,
			Source:     "probe",
		},
	}
}
