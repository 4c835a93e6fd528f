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

// Stats are the per-backend dispatch counters. Invariant: HooksProcessed
// == HooksCompleted + MemoryAccessErrors + IntrospectionErrors +
// MiscErrors.
type Stats struct {
	HooksProcessed      uint64
	HooksCompleted      uint64
	MemoryAccessErrors  uint64
	IntrospectionErrors uint64
	MiscErrors          uint64
}

// BackendIface is the OS-specific introspection layer that turns a RawEvent into a
// SyscallRecord. Implementations live in package introspect (windows.go,
// linux.go) over a shared base.
type BackendIface interface {
	OSType() OSType

	// ProcessEvent handles one raw trap: flush caches,
	// resolve the process, push/pop the per-VCPU syscall stack, resolve the
	// handler name, dispatch hooks, and return the record.
	ProcessEvent(event RawEvent) (*SyscallRecord, error)

	// SetFlushCachesEveryEvent toggles the per-event cache flush;
	// defaults to true.
	SetFlushCachesEveryEvent(bool)

	Stats() Stats

	// SelectorForName resolves a cleaned syscall name to its hypervisor
	// selector number, for the hook dispatcher's filter push/pop. Returns ErrFilterLookup if
	// the name is unknown or has no selector.
	SelectorForName(name string) (uint64, error)

	Close() error
}
