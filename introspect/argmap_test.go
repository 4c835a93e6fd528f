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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KVM-VMI/nitro/domain"
)

func TestArgumentMap_LinuxSyscallRegisterArgs(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	rec := &domain.SyscallRecord{
		Event: domain.RawEvent{
			Direction: domain.Enter,
			Kind:      domain.Syscall,
			Regs: domain.Regs{
				RDI: 1, RSI: 2, RDX: 3, R10: 4, R8: 5, R9: 6,
			},
		},
	}
	am := newArgumentMap(domain.Linux, mv, rec, 7)

	v, err := am.Get(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	v, err = am.Get(5)
	require.NoError(t, err)
	require.Equal(t, uint64(6), v)

	require.NoError(t, am.Set(0, 99))
	require.Equal(t, uint64(99), rec.Event.Regs.RDI)
	require.Equal(t, uint64(99), rec.Modified[0])
}

func TestArgumentMap_WindowsSyscallStackArgs(t *testing.T) {
	mv := newFakeMemView(domain.Windows)
	rec := &domain.SyscallRecord{
		Event: domain.RawEvent{
			Direction: domain.Enter,
			Kind:      domain.Syscall,
			Regs: domain.Regs{
				RCX: 10, RDX: 20, R8: 30, R9: 40,
				RSP: 0x8000,
			},
		},
	}
	am := newArgumentMap(domain.Windows, mv, rec, 1)

	v, err := am.Get(0)
	require.NoError(t, err)
	require.Equal(t, uint64(10), v)

	// Argument 4 is the first stacked argument: RSP + 5*8.
	stackVA := uint64(0x8000) + uint64(windowsStackArgBaseSlot)*8
	mv.setU64(stackVA, 0xcafe)

	v, err = am.Get(4)
	require.NoError(t, err)
	require.Equal(t, uint64(0xcafe), v)

	require.NoError(t, am.Set(4, 0xbeef))
	got, err := mv.ReadAddrVA(stackVA, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0xbeef), got)
	require.Equal(t, uint64(0xbeef), rec.Modified[4])
}

func TestArgumentMap_ExitOnlyExposesReturnValue(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	rec := &domain.SyscallRecord{
		Event: domain.RawEvent{
			Direction: domain.Exit,
			Kind:      domain.Syscall,
			Regs:      domain.Regs{RAX: 0xff},
		},
	}
	am := newArgumentMap(domain.Linux, mv, rec, 1)

	v, err := am.Get(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0xff), v)

	_, err = am.Get(1)
	require.Error(t, err)
}

func TestArgumentMap_EntrySnapshotSurvivesExitReplacement(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	rec := &domain.SyscallRecord{
		Event: domain.RawEvent{
			Direction: domain.Enter,
			Kind:      domain.Syscall,
			Regs:      domain.Regs{RDI: 123},
		},
	}
	am := newArgumentMap(domain.Linux, mv, rec, 1)

	// Simulate the Backend replacing Event with the EXIT event once it pops
	// the stack: registers change, but the snapshot does not, and Get(0)
	// reports the exit's rax.
	rec.Event = domain.RawEvent{Direction: domain.Exit, Kind: domain.Syscall, Regs: domain.Regs{RAX: 0, RDI: 999}}

	require.Equal(t, uint64(123), am.(*argMap).entryRegs.RDI)

	v, err := am.Get(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)
}

func TestArgumentMap_GetStringAndBytes(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	rec := &domain.SyscallRecord{
		Event: domain.RawEvent{
			Direction: domain.Enter,
			Kind:      domain.Syscall,
			Regs:      domain.Regs{RDI: 0x4000},
		},
	}
	mv.setBytes(0x4000, append([]byte("/etc/passwd"), 0))
	am := newArgumentMap(domain.Linux, mv, rec, 1)

	s, err := am.GetString(0)
	require.NoError(t, err)
	require.Equal(t, "/etc/passwd", s)

	b, err := am.GetBytes(0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("/etc"), b)
}
