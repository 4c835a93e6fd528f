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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// fakeDevice swaps ioctlFn for the duration of a test so vm/vcpu handles can
// be exercised without a real hypervisor control device.
func fakeDevice(t *testing.T, handle func(req uintptr, arg uintptr)) {
	t.Helper()
	orig := ioctlFn
	ioctlFn = func(fd int, req uintptr, arg uintptr) error {
		handle(req, arg)
		return nil
	}
	t.Cleanup(func() { ioctlFn = orig })
}

func TestVmHandle_AttachVcpus(t *testing.T) {
	fakeDevice(t, func(req uintptr, arg uintptr) {
		if req != reqAttachVcpus {
			return
		}
		res := (*attachVcpusResult)(unsafe.Pointer(arg))
		res.NumVcpus = 2
		res.Ids[0], res.Fds[0] = 0, 10
		res.Ids[1], res.Fds[1] = 1, 11
	})

	vm := &vmHandle{fd: 3}
	vcpus, err := vm.AttachVcpus()
	require.NoError(t, err)
	require.Len(t, vcpus, 2)
	require.Equal(t, 0, vcpus[0].Index())
	require.Equal(t, 1, vcpus[1].Index())
}

func TestVmHandle_AttachVcpus_ImplausibleCount(t *testing.T) {
	fakeDevice(t, func(req uintptr, arg uintptr) {
		res := (*attachVcpusResult)(unsafe.Pointer(arg))
		res.NumVcpus = 0
	})

	vm := &vmHandle{fd: 3}
	_, err := vm.AttachVcpus()
	require.Error(t, err)
}

func TestVmHandle_FilterMirror(t *testing.T) {
	fakeDevice(t, func(req uintptr, arg uintptr) {})

	vm := &vmHandle{fd: 3}
	require.NoError(t, vm.AddSyscallFilter(42))
	require.NoError(t, vm.AddSyscallFilter(7))
	require.ElementsMatch(t, []uint64{42, 7}, vm.ActiveFilters())

	require.NoError(t, vm.RemoveSyscallFilter(42))
	require.ElementsMatch(t, []uint64{7}, vm.ActiveFilters())
}

func TestVcpuHandle_GetEvent_NotPresent(t *testing.T) {
	fakeDevice(t, func(req uintptr, arg uintptr) {
		we := (*wireEvent)(unsafe.Pointer(arg))
		we.Present = 0
	})

	vcpu := &vcpuHandle{index: 1, fd: 5}
	ev, err := vcpu.GetEvent()
	require.NoError(t, err)
	require.False(t, ev.Present)
	require.Equal(t, 1, ev.VcpuIndex)
}

func TestVcpuHandle_GetEvent_Present(t *testing.T) {
	fakeDevice(t, func(req uintptr, arg uintptr) {
		we := (*wireEvent)(unsafe.Pointer(arg))
		we.Present = 1
		we.Direction = 1 // EXIT
		we.Kind = 1      // SYSCALL
		we.Regs.RAX = 0x2A
		we.SRegs.CR3 = 0x1000
	})

	vcpu := &vcpuHandle{index: 0, fd: 5}
	ev, err := vcpu.GetEvent()
	require.NoError(t, err)
	require.True(t, ev.Present)
	require.EqualValues(t, 0x2A, ev.Regs.RAX)
	require.EqualValues(t, 0x1000, ev.CR3())
}

func TestVmHandle_CloseClosesVcpuFds(t *testing.T) {
	fakeDevice(t, func(req uintptr, arg uintptr) {
		if req != reqAttachVcpus {
			return
		}
		res := (*attachVcpusResult)(unsafe.Pointer(arg))
		res.NumVcpus = 2
		res.Ids[0], res.Fds[0] = 0, 10
		res.Ids[1], res.Fds[1] = 1, 11
	})

	var closed []int
	origClose := closeFn
	closeFn = func(fd int) error {
		closed = append(closed, fd)
		return nil
	}
	t.Cleanup(func() { closeFn = origClose })

	vm := &vmHandle{fd: 3}
	vcpus, err := vm.AttachVcpus()
	require.NoError(t, err)
	require.Len(t, vcpus, 2)

	require.NoError(t, vm.Close())
	require.ElementsMatch(t, []int{10, 11, 3}, closed)
}
