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

// Direction identifies whether a RawEvent is a syscall entry or exit.
type Direction uint32

const (
	Enter Direction = iota
	Exit
)

func (d Direction) String() string {
	if d == Enter {
		return "enter"
	}
	return "exit"
}

// Kind identifies the calling convention that trapped.
type Kind uint32

const (
	Sysenter Kind = iota
	Syscall
)

func (k Kind) String() string {
	if k == Sysenter {
		return "sysenter"
	}
	return "syscall"
}

// OSType identifies the guest operating system family a Backend decodes.
type OSType int

const (
	Unknown OSType = iota
	Windows
	Linux
)

func (o OSType) String() string {
	switch o {
	case Windows:
		return "windows"
	case Linux:
		return "linux"
	default:
		return "unknown"
	}
}

// Regs mirrors the hypervisor's general-register snapshot (wire-compatible
// with the GET_REGS/SET_REGS payload in the control-channel ABI). Field
// order matters: the struct is handed to the control device by address, so
// its in-memory layout is the wire layout.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RSP, RBP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFLAGS        uint64
}

// Segment mirrors one segment/descriptor-table register.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Type     uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	_        [1]byte // ABI padding, preserved verbatim
}

// DTable mirrors a descriptor-table register (GDTR/IDTR): base + limit only.
type DTable struct {
	Base  uint64
	Limit uint16
	_     [6]byte // ABI padding
}

// SRegs mirrors the hypervisor's special-register snapshot.
type SRegs struct {
	CS, DS, ES, FS, GS, SS, TR, LDT Segment
	GDT, IDT                        DTable
	CR0, CR2, CR3, CR4, CR8         uint64
	EFER, APICBase                  uint64
}

// RawEvent is produced by the KVM driver and consumed by the introspection
// backend. It is only valid while the
// VCPU it originated from remains paused.
type RawEvent struct {
	Present   bool
	Direction Direction
	Kind      Kind
	Regs      Regs
	SRegs     SRegs
	VcpuIndex int
}

// CR3 returns the directory-table base, which doubles as a process key.
func (e *RawEvent) CR3() uint64 {
	return e.SRegs.CR3
}
