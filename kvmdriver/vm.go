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

package kvmdriver

import (
	"fmt"
	"sync"
	"unsafe"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/KVM-VMI/nitro/domain"
)

// vmHandle is the default domain.VmHandleIface implementation.
type vmHandle struct {
	fd int

	mu           sync.Mutex
	vcpus        []*vcpuHandle // attached VCPUs, closed with the handle
	filterMirror *iradix.Tree  // host-side mirror of active filter selectors
}

var _ domain.VmHandleIface = (*vmHandle)(nil)

func (v *vmHandle) AttachVcpus() ([]domain.VcpuHandleIface, error) {
	var res attachVcpusResult
	if err := ioctlFn(v.fd, reqAttachVcpus, uintptr(unsafe.Pointer(&res))); err != nil {
		return nil, fmt.Errorf("%w: ATTACH_VCPUS: %v", domain.ErrAttachFailed, err)
	}

	if res.NumVcpus <= 0 || int(res.NumVcpus) > maxVcpus {
		return nil, fmt.Errorf("%w: ATTACH_VCPUS returned implausible vcpu count %d", domain.ErrAttachFailed, res.NumVcpus)
	}

	vcpus := make([]domain.VcpuHandleIface, 0, res.NumVcpus)
	v.mu.Lock()
	for i := 0; i < int(res.NumVcpus); i++ {
		vcpu := &vcpuHandle{
			index: int(res.Ids[i]),
			fd:    int(res.Fds[i]),
		}
		v.vcpus = append(v.vcpus, vcpu)
		vcpus = append(vcpus, vcpu)
	}
	v.mu.Unlock()

	return vcpus, nil
}

// SetSyscallTrap arms/disarms the global trap. The caller is responsible
// for bracketing this with domain pause/resume.
func (v *vmHandle) SetSyscallTrap(on bool) error {
	var arg uint32
	if on {
		arg = 1
	}
	if err := ioctlFn(v.fd, reqSetSyscallTrap, uintptr(unsafe.Pointer(&arg))); err != nil {
		return fmt.Errorf("%w: SET_SYSCALL_TRAP(%v): %v", domain.ErrVcpuIoFailed, on, err)
	}
	return nil
}

func (v *vmHandle) AddSyscallFilter(selector uint64) error {
	if err := ioctlFn(v.fd, reqAddSyscallFilter, uintptr(unsafe.Pointer(&selector))); err != nil {
		return fmt.Errorf("%w: ADD_SYSCALL_FILTER(%d): %v", domain.ErrVcpuIoFailed, selector, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.filterMirror == nil {
		v.filterMirror = iradix.New()
	}
	v.filterMirror, _, _ = v.filterMirror.Insert(selectorKey(selector), selector)

	return nil
}

func (v *vmHandle) RemoveSyscallFilter(selector uint64) error {
	if err := ioctlFn(v.fd, reqRemoveSyscallFilter, uintptr(unsafe.Pointer(&selector))); err != nil {
		return fmt.Errorf("%w: REMOVE_SYSCALL_FILTER(%d): %v", domain.ErrVcpuIoFailed, selector, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.filterMirror != nil {
		v.filterMirror, _, _ = v.filterMirror.Delete(selectorKey(selector))
	}

	return nil
}

// ActiveFilters enumerates the host-side mirror without a hypervisor
// round-trip.
func (v *vmHandle) ActiveFilters() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.filterMirror == nil {
		return nil
	}

	var out []uint64
	iter := v.filterMirror.Root().Iterator()
	for {
		_, val, ok := iter.Next()
		if !ok {
			break
		}
		out = append(out, val.(uint64))
	}
	return out
}

// Close releases every attached VCPU descriptor and then the control
// device itself. The first error wins; the remaining descriptors are still
// closed.
func (v *vmHandle) Close() error {
	v.mu.Lock()
	vcpus := v.vcpus
	v.vcpus = nil
	v.mu.Unlock()

	var firstErr error
	for _, vcpu := range vcpus {
		if err := vcpu.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := closeFn(v.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func selectorKey(selector uint64) []byte {
	return []byte{
		byte(selector >> 56), byte(selector >> 48), byte(selector >> 40), byte(selector >> 32),
		byte(selector >> 24), byte(selector >> 16), byte(selector >> 8), byte(selector),
	}
}
