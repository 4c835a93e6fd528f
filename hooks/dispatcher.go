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

// Package hooks lets client code register named callbacks for
// syscall entry and exit, invokes them under controlled error handling, and
// optionally pushes a kernel-level filter so only calls of interest trap.
package hooks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/KVM-VMI/nitro/domain"
)

// SelectorResolver turns a cleaned syscall name into its hypervisor
// selector number. domain.BackendIface satisfies this.
type SelectorResolver interface {
	SelectorForName(name string) (uint64, error)
}

// Filterer is the narrow slice of domain.VmHandleIface the dispatcher needs
// to arm/disarm kernel-side filters and enumerate the host-side mirror.
type Filterer interface {
	AddSyscallFilter(selector uint64) error
	RemoveSyscallFilter(selector uint64) error
	ActiveFilters() []uint64
}

type key struct {
	name string
	dir  domain.Direction
}

// Dispatcher is the default domain.HookServiceIface implementation. It is
// safe for concurrent use: the callback map is replaced wholesale on every
// registration change (copy-on-write), so Dispatch never observes a
// half-applied registration and holds the read lock only for its lookup.
type Dispatcher struct {
	mu        sync.RWMutex
	callbacks map[key]domain.HookFunc
	filtering bool
	resolver  SelectorResolver
	filterer  Filterer

	statsMu sync.Mutex
	stats   domain.Stats
}

var _ domain.HookServiceIface = (*Dispatcher)(nil)

// New constructs an unbound Dispatcher; Bind must be called once the
// introspection Backend and VM handle it will resolve selectors and push
// filters through are available. This two-step wiring breaks what would
// otherwise be a Backend<->Dispatcher construction cycle (the Backend needs
// a HookServiceIface and the Dispatcher needs the Backend's selector
// table), without requiring an import cycle between the two packages.
func New() *Dispatcher {
	return &Dispatcher{callbacks: make(map[key]domain.HookFunc)}
}

// Bind wires the collaborators DefineHook/UndefineHook need to push kernel
// filters. Must be called before any call that registers with filtering
// enabled; safe to call once during façade construction.
func (d *Dispatcher) Bind(resolver SelectorResolver, filterer Filterer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolver = resolver
	d.filterer = filterer
}

func (d *Dispatcher) SetFilteringEnabled(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filtering = on
}

// DefineHook registers cb for (name, dir) and, if filtering is enabled,
// pushes a kernel-side filter for name's selector.
func (d *Dispatcher) DefineHook(name string, dir domain.Direction, cb domain.HookFunc) error {
	d.mu.Lock()
	next := make(map[key]domain.HookFunc, len(d.callbacks)+1)
	for k, v := range d.callbacks {
		next[k] = v
	}
	next[key{name, dir}] = cb
	d.callbacks = next
	filtering, resolver, filterer := d.filtering, d.resolver, d.filterer
	d.mu.Unlock()

	if !filtering {
		return nil
	}
	if resolver == nil || filterer == nil {
		return fmt.Errorf("%w: hook dispatcher not bound to a backend/vm handle", domain.ErrFilterLookup)
	}

	selector, err := resolver.SelectorForName(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrFilterLookup, name, err)
	}
	if err := d.filterer.AddSyscallFilter(selector); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrFilterLookup, name, err)
	}
	return nil
}

// UndefineHook removes a previously registered hook and its filter, if any.
func (d *Dispatcher) UndefineHook(name string, dir domain.Direction) error {
	d.mu.Lock()
	next := make(map[key]domain.HookFunc, len(d.callbacks))
	for k, v := range d.callbacks {
		if k == (key{name, dir}) {
			continue
		}
		next[k] = v
	}
	d.callbacks = next
	filtering, resolver, filterer := d.filtering, d.resolver, d.filterer
	d.mu.Unlock()

	if !filtering || resolver == nil || filterer == nil {
		return nil
	}

	selector, err := resolver.SelectorForName(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrFilterLookup, name, err)
	}
	return d.filterer.RemoveSyscallFilter(selector)
}

// ActiveFilters enumerates the host-side mirror through the bound
// Filterer, without a hypervisor round-trip.
func (d *Dispatcher) ActiveFilters() []uint64 {
	d.mu.RLock()
	filterer := d.filterer
	d.mu.RUnlock()
	if filterer == nil {
		return nil
	}
	return filterer.ActiveFilters()
}

// Dispatch runs the hook registered for record's (name, direction) pair,
// if record.Process resolved. Every outcome is tallied into Stats and never
// propagates to the caller: ErrMemoryAccess and ErrIntrospection each have
// their own counter; a panic or any other error lands in MiscErrors.
func (d *Dispatcher) Dispatch(record *domain.SyscallRecord, backend domain.BackendIface) {
	if record.Process == nil {
		return
	}

	d.mu.RLock()
	cb, ok := d.callbacks[key{record.Name, record.Event.Direction}]
	d.mu.RUnlock()
	if !ok {
		return
	}

	d.statsMu.Lock()
	d.stats.HooksProcessed++
	d.statsMu.Unlock()

	err := d.runGuarded(cb, record, backend)
	switch {
	case err == nil:
		d.statsMu.Lock()
		d.stats.HooksCompleted++
		d.statsMu.Unlock()
	case errors.Is(err, domain.ErrMemoryAccess):
		logrus.Debugf("hooks: memory access error in %s hook for %s: %v", record.Event.Direction, record.Name, err)
		d.statsMu.Lock()
		d.stats.MemoryAccessErrors++
		d.statsMu.Unlock()
	case errors.Is(err, domain.ErrIntrospection):
		logrus.Debugf("hooks: introspection failure in %s hook for %s: %v", record.Event.Direction, record.Name, err)
		d.statsMu.Lock()
		d.stats.IntrospectionErrors++
		d.statsMu.Unlock()
	default:
		logrus.Errorf("hooks: %s hook for %s failed: %v", record.Event.Direction, record.Name, err)
		d.statsMu.Lock()
		d.stats.MiscErrors++
		d.statsMu.Unlock()
	}
}

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() domain.Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// runGuarded recovers a panicking hook so one bad callback cannot tear
// down the listen loop, folding the panic into the same error return a
// well-behaved hook would have used.
func (d *Dispatcher) runGuarded(cb domain.HookFunc, record *domain.SyscallRecord, backend domain.BackendIface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: hook panicked: %v", domain.ErrHookDispatch, r)
		}
	}()
	return cb(record, backend)
}
