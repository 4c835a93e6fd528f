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

	"github.com/KVM-VMI/nitro/domain"
)

// fakeMemView is an in-memory domain.MemoryViewIface backed by plain maps,
// used across the introspect package's tests in place of a real libvmi
// handle.
type fakeMemView struct {
	os domain.OSType

	ksyms   map[string]uint64
	vsyms   map[uint64]string
	kv2p    map[uint64]uint64
	offsets map[string]map[string]int64

	mem map[uint64][]byte

	flushedKinds []domain.CacheKind
	flushedAll   int
}

func newFakeMemView(os domain.OSType) *fakeMemView {
	return &fakeMemView{
		os:      os,
		ksyms:   make(map[string]uint64),
		vsyms:   make(map[uint64]string),
		kv2p:    make(map[uint64]uint64),
		offsets: make(map[string]map[string]int64),
		mem:     make(map[uint64][]byte),
	}
}

func (f *fakeMemView) setBytes(va uint64, b []byte) {
	f.mem[va] = b
}

func (f *fakeMemView) setU64(va uint64, v uint64) {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	f.mem[va] = buf
}

func (f *fakeMemView) setOffset(structName, field string, off int64) {
	if f.offsets[structName] == nil {
		f.offsets[structName] = make(map[string]int64)
	}
	f.offsets[structName][field] = off
}

func (f *fakeMemView) KsymToVaddr(symbol string) (uint64, error) {
	v, ok := f.ksyms[symbol]
	if !ok {
		return 0, fmt.Errorf("fakeMemView: unknown symbol %q", symbol)
	}
	return v, nil
}

func (f *fakeMemView) VaddrToKsym(vaddr uint64, _ uint32) (string, error) {
	s, ok := f.vsyms[vaddr]
	if !ok {
		return "", fmt.Errorf("fakeMemView: unresolved vaddr %#x", vaddr)
	}
	return s, nil
}

func (f *fakeMemView) KvaddrToPaddr(kvaddr uint64) (uint64, error) {
	p, ok := f.kv2p[kvaddr]
	if !ok {
		return 0, fmt.Errorf("fakeMemView: unmapped kvaddr %#x", kvaddr)
	}
	return p, nil
}

func (f *fakeMemView) ReadAddrVA(va uint64, _ uint32) (uint64, error) {
	buf, ok := f.mem[va]
	if !ok || len(buf) < 8 {
		return 0, fmt.Errorf("fakeMemView: no qword at %#x", va)
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v, nil
}

func (f *fakeMemView) ReadU32(va uint64, _ uint32) (uint32, error) {
	buf, ok := f.mem[va]
	if !ok || len(buf) < 4 {
		return 0, fmt.Errorf("fakeMemView: no dword at %#x", va)
	}
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(buf[i]) << (8 * i)
	}
	return v, nil
}

func (f *fakeMemView) ReadStrVA(va uint64, pid uint32) (string, error) {
	buf, err := f.ReadBytes(va, pid, 256)
	if err != nil {
		return "", err
	}
	return cString(buf), nil
}

func (f *fakeMemView) ReadBytes(va uint64, _ uint32, n int) ([]byte, error) {
	buf, ok := f.mem[va]
	if !ok {
		return nil, fmt.Errorf("fakeMemView: no data at %#x", va)
	}
	if n > len(buf) {
		n = len(buf)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

func (f *fakeMemView) WriteBytes(va uint64, _ uint32, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.mem[va] = cp
	return nil
}

func (f *fakeMemView) GetOffset(structName, field string) (int64, error) {
	fields, ok := f.offsets[structName]
	if !ok {
		return 0, fmt.Errorf("fakeMemView: unknown struct %q", structName)
	}
	off, ok := fields[field]
	if !ok {
		return 0, fmt.Errorf("fakeMemView: unknown field %q.%q", structName, field)
	}
	return off, nil
}

func (f *fakeMemView) OSType() domain.OSType { return f.os }

func (f *fakeMemView) FlushCache(kind domain.CacheKind) {
	f.flushedKinds = append(f.flushedKinds, kind)
}

func (f *fakeMemView) FlushAllCaches() {
	f.flushedAll++
}

func (f *fakeMemView) Close() error { return nil }

var _ domain.MemoryViewIface = (*fakeMemView)(nil)

// fakeHooks is a minimal HookDispatcher recording every dispatched record.
type fakeHooks struct {
	dispatched []*domain.SyscallRecord
	stats      domain.Stats
}

func (h *fakeHooks) DefineHook(string, domain.Direction, domain.HookFunc) error { return nil }
func (h *fakeHooks) UndefineHook(string, domain.Direction) error                { return nil }
func (h *fakeHooks) SetFilteringEnabled(bool)                                   {}
func (h *fakeHooks) ActiveFilters() []uint64                                    { return nil }

func (h *fakeHooks) Dispatch(record *domain.SyscallRecord, _ domain.BackendIface) {
	h.dispatched = append(h.dispatched, record)
	h.stats.HooksProcessed++
	h.stats.HooksCompleted++
}

func (h *fakeHooks) Stats() domain.Stats { return h.stats }

var _ HookDispatcher = (*fakeHooks)(nil)
