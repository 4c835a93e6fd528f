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

// HookFunc is a client-registered callback invoked on entry or exit of a
// named syscall. It may annotate record.HookPayload, which appears in the
// record's output, and mutate arguments through record.Args; argument
// mutations are reflected to the guest before the VCPU is released.
//
// A returned error wrapping ErrMemoryAccess or ErrIntrospection is tallied
// under the matching statistic and swallowed; any other error (or a panic,
// which Dispatch also recovers) is tallied under MiscErrors.
type HookFunc func(record *SyscallRecord, backend BackendIface) error

// HookServiceIface registers/unregisters named callbacks per
// direction and dispatches them under controlled error handling.
type HookServiceIface interface {
	// DefineHook registers cb for (name, direction) and, if filtering is
	// enabled, pushes a selector filter so only matching calls trap.
	DefineHook(name string, dir Direction, cb HookFunc) error

	// UndefineHook removes a previously registered hook and its filter.
	UndefineHook(name string, dir Direction) error

	// Dispatch runs the hooks registered for record's (name, direction), if
	// record.Process is resolved; otherwise it is a no-op (hook contracts
	// assume a process context). Never panics out to the caller.
	Dispatch(record *SyscallRecord, backend BackendIface)

	// SetFilteringEnabled toggles whether DefineHook/UndefineHook push
	// kernel-side filters at all.
	SetFilteringEnabled(bool)

	// ActiveFilters enumerates the selector numbers currently filtered, via
	// the host-side mirror.
	ActiveFilters() []uint64
}
