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

package hooks

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KVM-VMI/nitro/domain"
)

type fakeResolver struct {
	selectors map[string]uint64
}

func (f *fakeResolver) SelectorForName(name string) (uint64, error) {
	sel, ok := f.selectors[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrFilterLookup, name)
	}
	return sel, nil
}

type fakeFilterer struct {
	active map[uint64]bool
}

func newFakeFilterer() *fakeFilterer {
	return &fakeFilterer{active: make(map[uint64]bool)}
}

func (f *fakeFilterer) AddSyscallFilter(selector uint64) error {
	f.active[selector] = true
	return nil
}

func (f *fakeFilterer) RemoveSyscallFilter(selector uint64) error {
	delete(f.active, selector)
	return nil
}

func (f *fakeFilterer) ActiveFilters() []uint64 {
	var out []uint64
	for sel := range f.active {
		out = append(out, sel)
	}
	return out
}

func recordFor(name string, dir domain.Direction, proc *domain.Process) *domain.SyscallRecord {
	return &domain.SyscallRecord{
		Event:   domain.RawEvent{Direction: dir},
		Name:    name,
		Process: proc,
	}
}

func TestDispatcher_SkipsUnresolvedProcess(t *testing.T) {
	d := New()
	called := false
	require.NoError(t, d.DefineHook("NtClose", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error {
		called = true
		return nil
	}))

	d.Dispatch(recordFor("NtClose", domain.Enter, nil), nil)

	require.False(t, called)
	require.Equal(t, domain.Stats{}, d.Stats())
}

func TestDispatcher_RunsRegisteredHook(t *testing.T) {
	d := New()
	var seen *domain.SyscallRecord
	require.NoError(t, d.DefineHook("NtClose", domain.Enter, func(r *domain.SyscallRecord, _ domain.BackendIface) error {
		seen = r
		r.HookPayload = "closed"
		return nil
	}))

	rec := recordFor("NtClose", domain.Enter, &domain.Process{Pid: 4})
	d.Dispatch(rec, nil)

	require.Same(t, rec, seen)
	require.Equal(t, "closed", rec.HookPayload)
	require.Equal(t, domain.Stats{HooksProcessed: 1, HooksCompleted: 1}, d.Stats())
}

func TestDispatcher_StatsConservation(t *testing.T) {
	d := New()
	require.NoError(t, d.DefineHook("a", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error {
		return domain.ErrMemoryAccess
	}))
	require.NoError(t, d.DefineHook("b", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error {
		return domain.ErrIntrospection
	}))
	require.NoError(t, d.DefineHook("c", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error {
		return fmt.Errorf("boom")
	}))
	require.NoError(t, d.DefineHook("d", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error {
		panic("unexpected")
	}))
	require.NoError(t, d.DefineHook("e", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error {
		return nil
	}))

	proc := &domain.Process{Pid: 1}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		d.Dispatch(recordFor(name, domain.Enter, proc), nil)
	}

	stats := d.Stats()
	require.Equal(t, uint64(5), stats.HooksProcessed)
	require.Equal(t, stats.HooksProcessed, stats.HooksCompleted+stats.MemoryAccessErrors+stats.IntrospectionErrors+stats.MiscErrors)
	require.Equal(t, uint64(1), stats.HooksCompleted)
	require.Equal(t, uint64(1), stats.MemoryAccessErrors)
	require.Equal(t, uint64(1), stats.IntrospectionErrors)
	require.Equal(t, uint64(2), stats.MiscErrors)
}

func TestDispatcher_FilterPushAndRemove(t *testing.T) {
	d := New()
	d.SetFilteringEnabled(true)
	d.Bind(&fakeResolver{selectors: map[string]uint64{"NtClose": 0x29}}, newFakeFilterer())

	require.NoError(t, d.DefineHook("NtClose", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error { return nil }))
	require.ElementsMatch(t, []uint64{0x29}, d.ActiveFilters())

	require.NoError(t, d.UndefineHook("NtClose", domain.Enter))
	require.Empty(t, d.ActiveFilters())
}

func TestDispatcher_FilterLookupError(t *testing.T) {
	d := New()
	d.SetFilteringEnabled(true)
	d.Bind(&fakeResolver{selectors: map[string]uint64{}}, newFakeFilterer())

	err := d.DefineHook("Unknown", domain.Enter, func(*domain.SyscallRecord, domain.BackendIface) error { return nil })
	require.ErrorIs(t, err, domain.ErrFilterLookup)
}
