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

package domain

// DriverIface is a thin wrapper over the modified hypervisor's control
// interface. Implementations live in package kvmdriver.
type DriverIface interface {
	// Attach locates the hypervisor process for qemuPid and opens the
	// control device, returning a handle for the attached VM.
	Attach(qemuPid int) (VmHandleIface, error)
}

// VmHandleIface represents an attached VM.
type VmHandleIface interface {
	// AttachVcpus enumerates and attaches to every VCPU of the VM.
	AttachVcpus() ([]VcpuHandleIface, error)

	// SetSyscallTrap arms/disarms the global syscall trap. Callers must
	// bracket this with domain pause/resume.
	SetSyscallTrap(on bool) error

	// AddSyscallFilter asks the hypervisor to forward only the listed
	// selector numbers going forward.
	AddSyscallFilter(selector uint64) error

	// RemoveSyscallFilter undoes AddSyscallFilter for one selector.
	RemoveSyscallFilter(selector uint64) error

	// ActiveFilters enumerates the selector numbers currently filtered via
	// the host-side mirror, without a hypervisor round-trip.
	ActiveFilters() []uint64

	// Close releases the control device and any attached VCPU handles.
	Close() error
}

// VcpuHandleIface represents one attached, trappable VCPU.
type VcpuHandleIface interface {
	Index() int

	// GetEvent blocks until a syscall trap fires (or a filtered call is
	// skipped; that case yields a RawEvent
	// with Present == false, not an error).
	GetEvent() (RawEvent, error)

	GetRegs() (Regs, error)
	SetRegs(Regs) error
	GetSRegs() (SRegs, error)
	SetSRegs(SRegs) error

	// ContinueVM releases this VCPU to resume guest execution.
	ContinueVM() error

	// Close releases this VCPU's descriptor. Normally invoked through the
	// owning VmHandle's Close rather than directly.
	Close() error
}
