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

package introspect

import (
	"github.com/sirupsen/logrus"

	"github.com/KVM-VMI/nitro/domain"
)

// processWalker resolves a cr3 into a Process by walking the guest kernel's
// process list. Implemented per-OS (windows.go, linux.go).
type processWalker interface {
	resolveProcess(mv domain.MemoryViewIface, cr3 uint64) (*domain.Process, error)
}

// syscallNamer resolves a trapped rax into a handler name and back again
// into a selector number. Implemented per-OS.
type syscallNamer interface {
	fullName(mv domain.MemoryViewIface, rax uint64) (string, error)
	cleanName(full string) string
	selectorForName(name string) (uint64, error)
}

// HookDispatcher is the subset of the hook service the Backend needs: dispatch, plus the
// dispatch statistics it tallies. Kept separate
// from domain.HookServiceIface, rather than widening that contract, so
// hooks.Dispatcher can satisfy it structurally without every other
// HookServiceIface consumer needing to implement Stats().
type HookDispatcher interface {
	domain.HookServiceIface
	Stats() domain.Stats
}

// Backend is the shared base of the Windows and Linux variants. It runs
// the common per-event algorithm; everything OS-specific is delegated to
// a processWalker and syscallNamer.
type Backend struct {
	os     domain.OSType
	mv     domain.MemoryViewIface
	hooks  HookDispatcher
	walker processWalker
	namer  syscallNamer

	procCache *domain.ProcessCache
	stacks    map[int][]*domain.SyscallRecord

	flushEveryEvent bool
}

var _ domain.BackendIface = (*Backend)(nil)

func newBackend(os domain.OSType, mv domain.MemoryViewIface, hooks HookDispatcher, walker processWalker, namer syscallNamer) *Backend {
	return &Backend{
		os:              os,
		mv:              mv,
		hooks:           hooks,
		walker:          walker,
		namer:           namer,
		procCache:       domain.NewProcessCache(),
		stacks:          make(map[int][]*domain.SyscallRecord),
		flushEveryEvent: true,
	}
}

func (b *Backend) OSType() domain.OSType { return b.os }

func (b *Backend) SetFlushCachesEveryEvent(on bool) { b.flushEveryEvent = on }

func (b *Backend) Stats() domain.Stats { return b.hooks.Stats() }

func (b *Backend) SelectorForName(name string) (uint64, error) {
	return b.namer.selectorForName(name)
}

func (b *Backend) Close() error {
	return b.mv.Close()
}

// ProcessEvent turns one raw trap into a SyscallRecord. It never returns an
// error: introspection failures degrade to a best-effort record instead of
// aborting the trace.
func (b *Backend) ProcessEvent(event domain.RawEvent) (*domain.SyscallRecord, error) {
	if b.flushEveryEvent {
		b.mv.FlushAllCaches()
	}

	cr3 := event.CR3()
	proc, err := b.resolveProcess(cr3)
	if err != nil {
		logrus.Debugf("introspect: process resolution failed for cr3=%#x: %v", cr3, err)
	}

	var rec *domain.SyscallRecord
	if event.Direction == domain.Exit {
		rec = b.popStack(event.VcpuIndex)
		if rec == nil {
			// Late attach: the ENTER that would have pushed this record
			// happened before tracing started.
			rec = &domain.SyscallRecord{FullName: domain.UnknownName, Name: domain.UnknownName}
		}
		rec.Event = event
		if proc != nil {
			rec.Process = proc
		}
		if rec.Args == nil {
			// Fabricated records still get a return-value-only view so an
			// exit hook can read rax without a nil check.
			var pid uint32
			if proc != nil {
				pid = proc.Pid
			}
			rec.Args = newArgumentMap(b.os, b.mv, rec, pid)
		}
	} else {
		name := domain.UnknownName
		full, nameErr := b.namer.fullName(b.mv, event.Regs.RAX)
		if nameErr == nil {
			name = b.namer.cleanName(full)
		} else {
			full = domain.UnknownName
		}

		rec = &domain.SyscallRecord{
			Event:    event,
			FullName: full,
			Name:     name,
			Process:  proc,
		}

		var pid uint32
		if proc != nil {
			pid = proc.Pid
		}
		rec.Args = newArgumentMap(b.os, b.mv, rec, pid)

		b.pushStack(event.VcpuIndex, rec)
	}

	b.hooks.Dispatch(rec, b)

	return rec, nil
}

func (b *Backend) resolveProcess(cr3 uint64) (*domain.Process, error) {
	if p, ok := b.procCache.Lookup(cr3); ok {
		return p, nil
	}
	p, err := b.walker.resolveProcess(b.mv, cr3)
	if err != nil {
		return nil, err
	}
	b.procCache.Insert(p)
	return p, nil
}

func (b *Backend) pushStack(vcpu int, rec *domain.SyscallRecord) {
	b.stacks[vcpu] = append(b.stacks[vcpu], rec)
}

func (b *Backend) popStack(vcpu int) *domain.SyscallRecord {
	st := b.stacks[vcpu]
	if len(st) == 0 {
		return nil
	}
	rec := st[len(st)-1]
	b.stacks[vcpu] = st[:len(st)-1]
	return rec
}
