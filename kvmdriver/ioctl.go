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

// Package kvmdriver is a thin wrapper over the modified hypervisor's
// control-device ioctl interface. It arms/disarms per-VCPU syscall traps
// and extracts raw events on each trap.
package kvmdriver

import (
	"golang.org/x/sys/unix"

	"github.com/KVM-VMI/nitro/domain"
)

// Request codes of the control-device protocol. These are part of the
// hypervisor ABI and must not be renumbered.
const (
	reqAttachVM            = 0xE1
	reqAttachVcpus         = 0xE2
	reqSetSyscallTrap      = 0xE3
	reqGetEvent            = 0xE5
	reqContinue            = 0xE6
	reqGetRegs             = 0xE7
	reqSetRegs             = 0xE8
	reqGetSregs            = 0xE9
	reqSetSregs            = 0xEA
	reqAddSyscallFilter    = 0xEB
	reqRemoveSyscallFilter = 0xEC
)

const maxVcpus = 64

// attachVcpusResult is the wire payload of ATTACH_VCPUS.
type attachVcpusResult struct {
	NumVcpus int32
	_        [4]byte // align Ids to 8 bytes, ABI padding
	Ids      [maxVcpus]int32
	Fds      [maxVcpus]int32
}

// wireEvent is the wire payload of GET_EVENT: present, direction,
// kind, then the general and special register snapshots.
type wireEvent struct {
	Present   uint32
	Direction uint32
	Kind      uint32
	_         uint32 // ABI padding to align Regs to 8 bytes
	Regs      domain.Regs
	SRegs     domain.SRegs
}

// ioctlFn performs a single ioctl(2) call; a package-level var so tests can
// fake hypervisor responses without a real control device.
var ioctlFn = func(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// closeFn is the same kind of seam for descriptor closes, so tests can
// verify no fd owned by the driver outlives its handle.
var closeFn = unix.Close
