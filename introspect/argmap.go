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
	"encoding/binary"
	"fmt"

	"github.com/KVM-VMI/nitro/domain"
)

// windowsStackArgBaseSlot is the first stacked-argument slot on the Windows
// x64 syscall convention: the return address and 32 bytes of callee "home"
// space occupy slots 0-4 above rsp, so argument index 4 lives in slot 5
// (rsp + 5*8).
const windowsStackArgBaseSlot = 5

// memWriteWidth is the width, in bytes, of a memory-based argument write on
// the one calling convention that uses them (Windows x64 syscall).
const memWriteWidth = 8

// convention identifies a decodable (os, kind) pairing. 32-bit Windows
// sysenter is recognized by the listener but its calling convention is out
// of scope and is left unsupported here.
type convention int

const (
	convUnsupported convention = iota
	convWindowsSyscall
	convLinuxSyscall
	convLinuxSysenter
)

func conventionFor(os domain.OSType, kind domain.Kind) convention {
	switch {
	case os == domain.Windows && kind == domain.Syscall:
		return convWindowsSyscall
	case os == domain.Linux && kind == domain.Syscall:
		return convLinuxSyscall
	case os == domain.Linux && kind == domain.Sysenter:
		return convLinuxSysenter
	default:
		return convUnsupported
	}
}

// regPtr returns a pointer to the register backing argument i under conv, or
// ok==false when argument i is memory-based (or out of range) under conv.
func regPtr(regs *domain.Regs, conv convention, i int) (*uint64, bool) {
	switch conv {
	case convWindowsSyscall:
		switch i {
		case 0:
			return &regs.RCX, true
		case 1:
			return &regs.RDX, true
		case 2:
			return &regs.R8, true
		case 3:
			return &regs.R9, true
		}
	case convLinuxSyscall:
		switch i {
		case 0:
			return &regs.RDI, true
		case 1:
			return &regs.RSI, true
		case 2:
			return &regs.RDX, true
		case 3:
			return &regs.R10, true
		case 4:
			return &regs.R8, true
		case 5:
			return &regs.R9, true
		}
	case convLinuxSysenter:
		switch i {
		case 0:
			return &regs.RBX, true
		case 1:
			return &regs.RCX, true
		case 2:
			return &regs.RDX, true
		case 3:
			return &regs.RSI, true
		case 4:
			return &regs.RDI, true
		case 5:
			return &regs.RBP, true
		}
	}
	return nil, false
}

// argMap is the default domain.ArgumentMap implementation. Entry-time reads
// decode registers from a snapshot taken at construction (entryRegs). Once
// the record's Event is replaced with the EXIT event when the per-VCPU stack
// pops, Get exposes only the exit's rax as argument 0; the snapshot is not
// consulted on EXIT.
type argMap struct {
	rec       *domain.SyscallRecord
	mv        domain.MemoryViewIface
	pid       uint32
	conv      convention
	entryRegs domain.Regs
}

var _ domain.ArgumentMap = (*argMap)(nil)

func newArgumentMap(os domain.OSType, mv domain.MemoryViewIface, rec *domain.SyscallRecord, pid uint32) domain.ArgumentMap {
	return &argMap{
		rec:       rec,
		mv:        mv,
		pid:       pid,
		conv:      conventionFor(os, rec.Event.Kind),
		entryRegs: rec.Event.Regs,
	}
}

func (a *argMap) memAddr(i int) (uint64, error) {
	if a.conv != convWindowsSyscall || i < 4 {
		return 0, fmt.Errorf("%w: argument %d has no memory location under this calling convention", domain.ErrIntrospection, i)
	}
	slot := windowsStackArgBaseSlot + (i - 4)
	return a.entryRegs.RSP + uint64(slot)*8, nil
}

// Get reads argument i. On EXIT, only index 0 (the return value, rax) is
// meaningful.
func (a *argMap) Get(i int) (uint64, error) {
	if a.rec.Event.Direction == domain.Exit {
		if i == 0 {
			return a.rec.Event.Regs.RAX, nil
		}
		return 0, fmt.Errorf("%w: argument %d not available on exit", domain.ErrIntrospection, i)
	}

	if ptr, ok := regPtr(&a.entryRegs, a.conv, i); ok {
		return *ptr, nil
	}

	va, err := a.memAddr(i)
	if err != nil {
		return 0, err
	}
	return a.mv.ReadAddrVA(va, a.pid)
}

func (a *argMap) GetString(i int) (string, error) {
	va, err := a.Get(i)
	if err != nil {
		return "", err
	}
	return a.mv.ReadStrVA(va, a.pid)
}

func (a *argMap) GetBytes(i int, n int) ([]byte, error) {
	va, err := a.Get(i)
	if err != nil {
		return nil, err
	}
	return a.mv.ReadBytes(va, a.pid, n)
}

// Set writes v to argument i's register or stack slot and logs the write in
// the owning record's modified-argument log.
func (a *argMap) Set(i int, v uint64) error {
	if ptr, ok := regPtr(&a.rec.Event.Regs, a.conv, i); ok {
		*ptr = v
		a.rec.RecordModified(i, v)
		return nil
	}

	va, err := a.memAddr(i)
	if err != nil {
		return err
	}
	buf := make([]byte, memWriteWidth)
	binary.LittleEndian.PutUint64(buf, v)
	if err := a.mv.WriteBytes(va, a.pid, buf); err != nil {
		return err
	}
	a.rec.RecordModified(i, v)
	return nil
}
