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

// CacheKind enumerates the four cache-flush domains of a MemoryView.
type CacheKind int

const (
	CacheV2P CacheKind = iota
	CachePid
	CacheRVA
	CacheSym
)

// MemoryViewIface is a capability surface over the guest-introspection
// library used for address translation and paged reads/writes. Nitro treats
// its concrete implementation as an external collaborator; this
// interface is the contract every Backend and hook is written against.
type MemoryViewIface interface {
	KsymToVaddr(symbol string) (uint64, error)
	VaddrToKsym(vaddr uint64, pid uint32) (string, error)
	KvaddrToPaddr(kvaddr uint64) (uint64, error)

	ReadAddrVA(va uint64, pid uint32) (uint64, error)
	ReadU32(va uint64, pid uint32) (uint32, error)
	ReadStrVA(va uint64, pid uint32) (string, error)
	ReadBytes(va uint64, pid uint32, n int) ([]byte, error)
	WriteBytes(va uint64, pid uint32, buf []byte) error

	GetOffset(structName, field string) (int64, error)
	OSType() OSType

	FlushCache(kind CacheKind)
	FlushAllCaches()

	// Close releases the handle. Owned by the Backend; called on stop.
	Close() error
}
