//
// Copyright 2024 The Nitro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package nitro

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/KVM-VMI/nitro/domain"
	"github.com/KVM-VMI/nitro/hooks"
	"github.com/KVM-VMI/nitro/introspect"
	"github.com/KVM-VMI/nitro/kvmdriver"
	"github.com/KVM-VMI/nitro/listener"
	"github.com/KVM-VMI/nitro/memview"
	"github.com/KVM-VMI/nitro/symbols"
)

// Config is everything New needs to attach to a running VM and start
// tracing it.
type Config struct {
	// QemuPid is the host pid of the VM's emulator process. Leave zero
	// and set DomainName+PidFileDir to resolve it instead.
	QemuPid int

	// DomainName is the libvirt domain name, used both to resolve QemuPid
	// (when it is zero) and to attach the Memory View.
	DomainName string

	// PidFileDir is consulted first when resolving DomainName to a pid
	//; falls back to scanning /proc.
	PidFileDir string

	// SymbolBundlePath points at the symbol bundle JSON document.
	SymbolBundlePath string

	// OS selects the Introspection Backend variant. Required.
	OS domain.OSType

	// Domain optionally brackets trap-state changes with pause/resume.
	// Nil means the caller has no VM-lifecycle collaborator and
	// the Listener manages trap state unbracketed, which is fine for a
	// libvirt domain the caller has already paused and not recommended
	// otherwise.
	Domain domain.DomainController

	// ControlDevicePath overrides the hypervisor control device path
	// (default /dev/nitro).
	ControlDevicePath string

	// FlushCachesEveryEvent flushes every Memory View cache on every
	// event, so translations can never go stale between traps. Defaults
	// to true; set false only once you understand the staleness risk.
	FlushCachesEveryEvent *bool

	// EnableFiltering arms kernel-side syscall filtering as hooks are
	// registered.
	EnableFiltering bool
}

// Facade composes the Listener and the introspection Backend, binds the
// hook Dispatcher to both, and is the entry point client code is expected
// to use.
type Facade struct {
	vcpusIdx map[int]domain.VcpuHandleIface
	backend  domain.BackendIface
	hooks    *hooks.Dispatcher
	listener domain.ListenerIface
}

// New attaches to the VM named by cfg, loads the symbol bundle, and wires
// every core component together. The VM is left with its syscall trap
// disarmed until Listen is called.
func New(cfg Config) (*Facade, error) {
	bundle, err := symbols.Load(cfg.SymbolBundlePath)
	if err != nil {
		return nil, err
	}

	qemuPid := cfg.QemuPid
	if qemuPid == 0 {
		qemuPid, err = kvmdriver.FindQemuPid(cfg.DomainName, cfg.PidFileDir)
		if err != nil {
			return nil, err
		}
	}

	drv := kvmdriver.New()
	if cfg.ControlDevicePath != "" {
		drv.DevicePath = cfg.ControlDevicePath
	}

	vm, err := drv.Attach(qemuPid)
	if err != nil {
		return nil, err
	}

	vcpus, err := vm.AttachVcpus()
	if err != nil {
		vm.Close()
		return nil, err
	}

	mv, err := memview.New(cfg.DomainName)
	if err != nil {
		vm.Close()
		return nil, err
	}

	hookDispatcher := hooks.New()
	hookDispatcher.SetFilteringEnabled(cfg.EnableFiltering)

	var backend domain.BackendIface
	switch cfg.OS {
	case domain.Windows:
		backend, err = introspect.NewWindowsBackend(mv, hookDispatcher, bundle)
	case domain.Linux:
		backend, err = introspect.NewLinuxBackend(mv, hookDispatcher, bundle)
	default:
		err = fmt.Errorf("%w: unsupported guest OS type %v", domain.ErrSymbolBundleInvalid, cfg.OS)
	}
	if err != nil {
		mv.Close()
		vm.Close()
		return nil, err
	}

	if cfg.FlushCachesEveryEvent != nil {
		backend.SetFlushCachesEveryEvent(*cfg.FlushCachesEveryEvent)
	}

	hookDispatcher.Bind(backend, vm)

	l := listener.New(vm, vcpus, cfg.Domain)

	return newFacade(vcpus, backend, hookDispatcher, l), nil
}

// newFacade assembles a Facade from already-constructed collaborators.
// Split out from New so tests can exercise Listen/DefineHook/Close against
// fakes without a real hypervisor or libvmi handle.
func newFacade(vcpus []domain.VcpuHandleIface, backend domain.BackendIface, hookDispatcher *hooks.Dispatcher, l domain.ListenerIface) *Facade {
	vcpusIdx := make(map[int]domain.VcpuHandleIface, len(vcpus))
	for _, v := range vcpus {
		vcpusIdx[v.Index()] = v
	}

	return &Facade{
		vcpusIdx: vcpusIdx,
		backend:  backend,
		hooks:    hookDispatcher,
		listener: l,
	}
}

// OSType reports which introspection backend variant is active, so hook
// code can branch on Windows vs. Linux without poking at backend types.
func (f *Facade) OSType() domain.OSType {
	return f.backend.OSType()
}

// Stats returns a snapshot of the hook-dispatch counters, callable at any
// time, not just at shutdown.
func (f *Facade) Stats() domain.Stats {
	return f.backend.Stats()
}

// DefineHook registers cb for (name, dir).
func (f *Facade) DefineHook(name string, dir domain.Direction, cb domain.HookFunc) error {
	return f.hooks.DefineHook(name, dir, cb)
}

// UndefineHook removes a previously registered hook.
func (f *Facade) UndefineHook(name string, dir domain.Direction) error {
	return f.hooks.UndefineHook(name, dir)
}

// ActiveFilters enumerates the syscall selectors currently filtered.
func (f *Facade) ActiveFilters() []uint64 {
	return f.hooks.ActiveFilters()
}

// Listen arms the trap, starts the Listener, and returns a channel of
// resolved SyscallRecord values.
// Canceling ctx stops the trace and closes the channel once the
// in-progress event (if any) has been resumed; an event that has not yet
// been received when ctx is canceled is not delivered.
func (f *Facade) Listen(ctx context.Context) (<-chan *domain.SyscallRecord, error) {
	rawEvents, err := f.listener.Start()
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.SyscallRecord)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				if err := f.listener.Stop(); err != nil {
					logrus.Warnf("nitro: stop on cancellation: %v", err)
				}
				return

			case ev, ok := <-rawEvents:
				if !ok {
					// The listener shut down on its own (worker error or
					// inactive domain); release its workers and fds.
					if err := f.listener.Err(); err != nil {
						logrus.Errorf("nitro: listener terminated: %v", err)
					}
					if err := f.listener.Stop(); err != nil {
						logrus.Warnf("nitro: stop after listener termination: %v", err)
					}
					return
				}

				rec, _ := f.backend.ProcessEvent(ev)
				f.reflectModifiedArgs(ev, rec)

				select {
				case out <- rec:
				case <-ctx.Done():
					f.listener.Resume(ev)
					if err := f.listener.Stop(); err != nil {
						logrus.Warnf("nitro: stop on cancellation: %v", err)
					}
					return
				}

				f.listener.Resume(ev)
			}
		}
	}()

	return out, nil
}

// reflectModifiedArgs writes register-based argument mutations back to the
// owning VCPU before it is resumed, so a hook's edits actually reach the
// guest. Memory-based mutations are already written
// through the Memory View at the moment ArgumentMap.Set is called.
func (f *Facade) reflectModifiedArgs(ev domain.RawEvent, rec *domain.SyscallRecord) {
	if len(rec.Modified) == 0 {
		return
	}
	vcpu, ok := f.vcpusIdx[ev.VcpuIndex]
	if !ok {
		return
	}
	if err := vcpu.SetRegs(rec.Event.Regs); err != nil {
		logrus.Warnf("nitro: writing back modified registers on vcpu %d: %v", ev.VcpuIndex, err)
	}
}

// Close stops the trace (if running) and releases every owned resource:
// the Listener's KVM control/VCPU descriptors, and the Memory View handle
// via the Backend that owns it.
func (f *Facade) Close() error {
	lErr := f.listener.Stop()
	bErr := f.backend.Close()
	if lErr != nil {
		return lErr
	}
	return bErr
}
