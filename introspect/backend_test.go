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

type stubWalker struct {
	proc *domain.Process
	err  error
	n    int
}

func (s *stubWalker) resolveProcess(domain.MemoryViewIface, uint64) (*domain.Process, error) {
	s.n++
	return s.proc, s.err
}

type stubNamer struct {
	full string
	err  error
}

func (s *stubNamer) fullName(domain.MemoryViewIface, uint64) (string, error) { return s.full, s.err }
func (s *stubNamer) cleanName(full string) string                            { return full }
func (s *stubNamer) selectorForName(string) (uint64, error)                  { return 0, nil }

func TestBackend_ProcessEvent_EnterThenExitPairsUp(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	hooks := &fakeHooks{}
	walker := &stubWalker{proc: &domain.Process{Cr3: 1, Pid: 7}}
	namer := &stubNamer{full: "sys_open"}

	b := newBackend(domain.Linux, mv, hooks, walker, namer)

	enter := domain.RawEvent{Direction: domain.Enter, Kind: domain.Syscall, VcpuIndex: 0}
	rec, err := b.ProcessEvent(enter)
	require.NoError(t, err)
	require.Equal(t, "sys_open", rec.FullName)
	require.Equal(t, uint32(7), rec.Process.Pid)

	exit := domain.RawEvent{Direction: domain.Exit, Kind: domain.Syscall, VcpuIndex: 0}
	exitRec, err := b.ProcessEvent(exit)
	require.NoError(t, err)
	require.Same(t, rec, exitRec)
	require.Equal(t, "sys_open", exitRec.FullName)

	require.Len(t, hooks.dispatched, 2)
	require.Equal(t, uint64(2), hooks.Stats().HooksProcessed)
}

func TestBackend_ProcessEvent_LateExitFabricatesUnknown(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	hooks := &fakeHooks{}
	walker := &stubWalker{proc: nil, err: domain.ErrProcessNotFound}
	namer := &stubNamer{full: "sys_write"}

	b := newBackend(domain.Linux, mv, hooks, walker, namer)

	exit := domain.RawEvent{Direction: domain.Exit, Kind: domain.Syscall, VcpuIndex: 3}
	rec, err := b.ProcessEvent(exit)
	require.NoError(t, err)
	require.Equal(t, domain.UnknownName, rec.Name)
	require.Equal(t, domain.UnknownName, rec.FullName)
}

func TestBackend_ProcessEvent_CachesProcessByCr3(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	hooks := &fakeHooks{}
	walker := &stubWalker{proc: &domain.Process{Cr3: 5, Pid: 1}}
	namer := &stubNamer{full: "sys_read"}

	b := newBackend(domain.Linux, mv, hooks, walker, namer)

	for i := 0; i < 3; i++ {
		event := domain.RawEvent{Direction: domain.Enter, Kind: domain.Syscall, VcpuIndex: i}
		event.SRegs.CR3 = 5
		_, err := b.ProcessEvent(event)
		require.NoError(t, err)
	}
	require.Equal(t, 1, walker.n)
}

func TestBackend_ProcessEvent_FlushesCachesEveryEventByDefault(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	hooks := &fakeHooks{}
	walker := &stubWalker{proc: &domain.Process{Cr3: 1}}
	namer := &stubNamer{full: "sys_read"}

	b := newBackend(domain.Linux, mv, hooks, walker, namer)
	_, err := b.ProcessEvent(domain.RawEvent{Direction: domain.Enter, Kind: domain.Syscall})
	require.NoError(t, err)
	require.Equal(t, 1, mv.flushedAll)

	b.SetFlushCachesEveryEvent(false)
	_, err = b.ProcessEvent(domain.RawEvent{Direction: domain.Enter, Kind: domain.Syscall})
	require.NoError(t, err)
	require.Equal(t, 1, mv.flushedAll)
}

func TestBackend_SelectorForNameDelegatesToNamer(t *testing.T) {
	mv := newFakeMemView(domain.Linux)
	hooks := &fakeHooks{}
	walker := &stubWalker{}
	namer := &stubNamer{}

	b := newBackend(domain.Linux, mv, hooks, walker, namer)
	sel, err := b.SelectorForName("whatever")
	require.NoError(t, err)
	require.Equal(t, uint64(0), sel)
}
