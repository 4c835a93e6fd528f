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

package memview

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/KVM-VMI/nitro/domain"
)

const cacheSize = 4096

// pidKey is the composite cache key for reads scoped to a guest process.
type pidKey struct {
	va  uint64
	pid uint32
}

// MemoryView is the default domain.MemoryViewIface implementation. It owns
// one rawVMI handle and layers on the four cache domains the backend and
// hook callbacks expect.
type MemoryView struct {
	vmi rawVMI

	symCache *lru.Cache // ksym -> vaddr
	rvaCache *lru.Cache // (vaddr,pid) -> ksym
	v2pCache *lru.Cache // kvaddr -> paddr
	pidCache *lru.Cache // (va,pid) -> addr-sized value
}

var _ domain.MemoryViewIface = (*MemoryView)(nil)

// New attaches libvmi to the named domain and wraps it with caches.
func New(domainName string) (*MemoryView, error) {
	h, err := newLibvmiHandle(domainName)
	if err != nil {
		return nil, err
	}
	return newMemoryView(h)
}

func newMemoryView(vmi rawVMI) (*MemoryView, error) {
	mv := &MemoryView{vmi: vmi}
	var err error
	if mv.symCache, err = lru.New(cacheSize); err != nil {
		return nil, fmt.Errorf("memview: sym cache: %w", err)
	}
	if mv.rvaCache, err = lru.New(cacheSize); err != nil {
		return nil, fmt.Errorf("memview: rva cache: %w", err)
	}
	if mv.v2pCache, err = lru.New(cacheSize); err != nil {
		return nil, fmt.Errorf("memview: v2p cache: %w", err)
	}
	if mv.pidCache, err = lru.New(cacheSize); err != nil {
		return nil, fmt.Errorf("memview: pid cache: %w", err)
	}
	return mv, nil
}

func (m *MemoryView) OSType() domain.OSType {
	return m.vmi.osType()
}

func (m *MemoryView) KsymToVaddr(symbol string) (uint64, error) {
	if v, ok := m.symCache.Get(symbol); ok {
		return v.(uint64), nil
	}
	v, err := m.vmi.translateKsym2V(symbol)
	if err != nil {
		return 0, err
	}
	m.symCache.Add(symbol, v)
	return v, nil
}

func (m *MemoryView) VaddrToKsym(vaddr uint64, pid uint32) (string, error) {
	key := pidKey{va: vaddr, pid: pid}
	if v, ok := m.rvaCache.Get(key); ok {
		return v.(string), nil
	}
	sym, err := m.vmi.translateV2Ksym(vaddr, pid)
	if err != nil {
		return "", err
	}
	m.rvaCache.Add(key, sym)
	return sym, nil
}

func (m *MemoryView) KvaddrToPaddr(kvaddr uint64) (uint64, error) {
	if v, ok := m.v2pCache.Get(kvaddr); ok {
		return v.(uint64), nil
	}
	p, err := m.vmi.translateKV2P(kvaddr)
	if err != nil {
		return 0, err
	}
	m.v2pCache.Add(kvaddr, p)
	return p, nil
}

func (m *MemoryView) ReadAddrVA(va uint64, pid uint32) (uint64, error) {
	key := pidKey{va: va, pid: pid}
	if v, ok := m.pidCache.Get(key); ok {
		return v.(uint64), nil
	}
	val, err := m.vmi.readAddrVA(va, pid)
	if err != nil {
		return 0, err
	}
	m.pidCache.Add(key, val)
	return val, nil
}

func (m *MemoryView) ReadU32(va uint64, pid uint32) (uint32, error) {
	buf, err := m.ReadBytes(va, pid, 4)
	if err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// ReadStrVA is not cached: strings are typically read once per process
// resolution and caching them risks returning a stale command line.
func (m *MemoryView) ReadStrVA(va uint64, pid uint32) (string, error) {
	return m.vmi.readStrVA(va, pid)
}

func (m *MemoryView) ReadBytes(va uint64, pid uint32, n int) ([]byte, error) {
	return m.vmi.readVA(va, pid, n)
}

func (m *MemoryView) WriteBytes(va uint64, pid uint32, buf []byte) error {
	if err := m.vmi.writeVA(va, pid, buf); err != nil {
		return err
	}
	m.pidCache.Remove(pidKey{va: va, pid: pid})
	return nil
}

// GetOffset resolves a libvmi-managed struct-field offset. structName and
// field are joined into the single flat key libvmi's own offset table uses
// (e.g. "win_tasks", "linux_pid") rather than exposed as a nested lookup.
func (m *MemoryView) GetOffset(structName, field string) (int64, error) {
	key := structName
	if field != "" {
		key = structName + "_" + field
	}
	return m.vmi.getOffset(key)
}

func (m *MemoryView) FlushCache(kind domain.CacheKind) {
	switch kind {
	case domain.CacheV2P:
		m.v2pCache.Purge()
	case domain.CachePid:
		m.pidCache.Purge()
	case domain.CacheRVA:
		m.rvaCache.Purge()
	case domain.CacheSym:
		m.symCache.Purge()
	}
}

func (m *MemoryView) FlushAllCaches() {
	m.v2pCache.Purge()
	m.pidCache.Purge()
	m.rvaCache.Purge()
	m.symCache.Purge()
}

func (m *MemoryView) Close() error {
	return m.vmi.destroy()
}
