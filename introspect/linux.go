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
	"fmt"
	"regexp"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/KVM-VMI/nitro/domain"
)

// maxLinuxWalk bounds the init_task.tasks walk so a corrupted list cannot
// spin forever.
const maxLinuxWalk = 100000

// maxLinuxSyscalls is the practical upper bound for walking
// sys_call_table when building the lazy name map.
const maxLinuxSyscalls = 1024

const linuxCommLen = 16

const pointerSize = 8

var linuxHandlerRe = regexp.MustCompile(`^(SyS|sys)_(.+)$`)

// linuxNamer resolves rax through a live sys_call_table lookup, and builds
// a name-to-index map on first use for the reverse direction, reading table
// entries until one fails to resolve to a symbol. The map is immutable once
// built, so an iradix.Tree fits directly.
type linuxNamer struct {
	mv domain.MemoryViewIface

	once     sync.Once
	nameMap  *iradix.Tree
	buildErr error
}

var _ syscallNamer = (*linuxNamer)(nil)

func (n *linuxNamer) fullName(mv domain.MemoryViewIface, rax uint64) (string, error) {
	tableVA, err := mv.KsymToVaddr("sys_call_table")
	if err != nil {
		return "", fmt.Errorf("%w: sys_call_table: %v", domain.ErrIntrospection, err)
	}
	fn, err := mv.ReadAddrVA(tableVA+rax*pointerSize, 0)
	if err != nil {
		return "", fmt.Errorf("%w: sys_call_table[%d]: %v", domain.ErrIntrospection, rax, err)
	}
	sym, err := mv.VaddrToKsym(fn, 0)
	if err != nil {
		return "", fmt.Errorf("%w: resolving rax=%d: %v", domain.ErrIntrospection, rax, err)
	}
	return sym, nil
}

// cleanName captures the suffix of ^(SyS|sys)_(.+)$, else returns the raw
// name unchanged.
func (n *linuxNamer) cleanName(full string) string {
	if m := linuxHandlerRe.FindStringSubmatch(full); m != nil {
		return m[2]
	}
	return full
}

func (n *linuxNamer) ensureNameMap() error {
	n.once.Do(func() {
		tableVA, err := n.mv.KsymToVaddr("sys_call_table")
		if err != nil {
			n.buildErr = fmt.Errorf("%w: sys_call_table: %v", domain.ErrIntrospection, err)
			return
		}

		tree := iradix.New()
		for i := 0; i < maxLinuxSyscalls; i++ {
			fn, err := n.mv.ReadAddrVA(tableVA+uint64(i)*pointerSize, 0)
			if err != nil {
				break
			}
			sym, err := n.mv.VaddrToKsym(fn, 0)
			if err != nil {
				break
			}
			tree, _, _ = tree.Insert([]byte(sym), uint64(i))
		}
		n.nameMap = tree
	})
	return n.buildErr
}

func (n *linuxNamer) selectorForName(name string) (uint64, error) {
	if err := n.ensureNameMap(); err != nil {
		return 0, err
	}
	for _, full := range []string{"sys_" + name, "SyS_" + name, name} {
		if v, ok := n.nameMap.Get([]byte(full)); ok {
			return v.(uint64), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrFilterLookup, name)
}

// linuxWalker resolves a cr3 by walking init_task's task_struct.tasks ring.
type linuxWalker struct {
	bundle *domain.SymbolBundle
}

var _ processWalker = (*linuxWalker)(nil)

func (w *linuxWalker) resolveProcess(mv domain.MemoryViewIface, cr3 uint64) (*domain.Process, error) {
	initTaskVA, err := mv.KsymToVaddr("init_task")
	if err != nil {
		return nil, fmt.Errorf("%w: init_task: %v", domain.ErrIntrospection, err)
	}
	tasksOff, err := bundleOffset(w.bundle, "linux_task_struct", "tasks")
	if err != nil {
		return nil, err
	}
	mmOff, err := bundleOffset(w.bundle, "linux_task_struct", "mm")
	if err != nil {
		return nil, err
	}
	pgdOff, err := bundleOffset(w.bundle, "linux_mm_struct", "pgd")
	if err != nil {
		return nil, err
	}

	head := initTaskVA + uint64(tasksOff)
	cur, err := mv.ReadAddrVA(head, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: reading init_task.tasks: %v", domain.ErrMemoryAccess, err)
	}

	for i := 0; i < maxLinuxWalk; i++ {
		if cur == 0 || cur == head {
			return nil, domain.ErrProcessNotFound
		}
		taskAddr := cur - uint64(tasksOff)

		if mmVal := w.resolveMM(mv, taskAddr, mmOff); mmVal != 0 {
			if pgdVA, err := mv.ReadAddrVA(mmVal+uint64(pgdOff), 0); err == nil {
				if paddr, err := mv.KvaddrToPaddr(pgdVA); err == nil && paddr == cr3 {
					return w.readProcess(mv, taskAddr, cr3)
				}
			}
		}

		next, err := mv.ReadAddrVA(cur, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: walking task_struct.tasks: %v", domain.ErrMemoryAccess, err)
		}
		cur = next
	}

	return nil, fmt.Errorf("%w: exceeded max walk depth", domain.ErrProcessNotFound)
}

// resolveMM reads task_struct.mm, falling back to active_mm (the next
// pointer-sized field) for kernel threads, whose mm is null.
func (w *linuxWalker) resolveMM(mv domain.MemoryViewIface, taskAddr uint64, mmOff int64) uint64 {
	mmVal, err := mv.ReadAddrVA(taskAddr+uint64(mmOff), 0)
	if err != nil {
		return 0
	}
	if mmVal != 0 {
		return mmVal
	}
	activeMM, err := mv.ReadAddrVA(taskAddr+uint64(mmOff)+pointerSize, 0)
	if err != nil {
		return 0
	}
	return activeMM
}

func (w *linuxWalker) readProcess(mv domain.MemoryViewIface, taskAddr uint64, cr3 uint64) (*domain.Process, error) {
	pidOff, err := bundleOffset(w.bundle, "linux_task_struct", "pid")
	if err != nil {
		return nil, err
	}
	commOff, err := bundleOffset(w.bundle, "linux_task_struct", "comm")
	if err != nil {
		return nil, err
	}

	pidVal, err := mv.ReadU32(taskAddr+uint64(pidOff), 0)
	if err != nil {
		return nil, fmt.Errorf("%w: task_struct.pid: %v", domain.ErrMemoryAccess, err)
	}
	commBytes, err := mv.ReadBytes(taskAddr+uint64(commOff), 0, linuxCommLen)
	if err != nil {
		return nil, fmt.Errorf("%w: task_struct.comm: %v", domain.ErrMemoryAccess, err)
	}

	return &domain.Process{
		Cr3:        cr3,
		KernelAddr: taskAddr,
		Pid:        pidVal,
		Name:       cString(commBytes),
	}, nil
}

// NewLinuxBackend builds the Linux introspection backend. The name map is built lazily
// on first filter-related call, not eagerly here.
func NewLinuxBackend(mv domain.MemoryViewIface, hooks HookDispatcher, bundle *domain.SymbolBundle) (*Backend, error) {
	namer := &linuxNamer{mv: mv}
	walker := &linuxWalker{bundle: bundle}
	return newBackend(domain.Linux, mv, hooks, walker, namer), nil
}
