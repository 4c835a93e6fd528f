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

import "fmt"

// UnknownName is emitted when a handler name cannot be resolved; tracing
// degrades instead of aborting.
const UnknownName = "Unknown"

// ArgumentMap is a view over an entry event providing indexed read/write of
// syscall arguments by ABI. Reads on EXIT expose only rax as argument 0.
type ArgumentMap interface {
	// Get returns argument i as the raw value of its register or stack
	// slot; use GetString or GetBytes to dereference pointer arguments.
	Get(i int) (uint64, error)

	// GetString reads argument i as a NUL-terminated guest string (only
	// meaningful for pointer-shaped arguments).
	GetString(i int) (string, error)

	// GetBytes reads n bytes at the guest memory location argument i points
	// to (only meaningful for pointer-shaped arguments).
	GetBytes(i int, n int) ([]byte, error)

	// Set writes v to argument i's register or stack slot and records the
	// write in the owning record's modified-argument log.
	Set(i int, v uint64) error
}

// SyscallRecord is produced by the introspection backend and consumed by
// hooks and, ultimately, the
// façade's client. Its lifetime ends once the client has consumed it from
// the event stream.
type SyscallRecord struct {
	Event       RawEvent
	FullName    string // e.g. "nt!NtOpenFile" or "SyS_open"
	Name        string // cleaned short name, e.g. "NtOpenFile" or "open"
	Process     *Process
	Args        ArgumentMap
	HookPayload interface{}
	Modified    map[int]uint64
}

// String renders a compact, log-friendly summary.
func (r *SyscallRecord) String() string {
	pid := "?"
	if r.Process != nil {
		pid = fmt.Sprintf("%d", r.Process.Pid)
	}
	return fmt.Sprintf("%s(pid=%s, vcpu=%d, %s)", r.Name, pid, r.Event.VcpuIndex, r.Event.Direction)
}

// RecordModified sets entry i of the modified-argument log to v, allocating
// Modified on first use.
func (r *SyscallRecord) RecordModified(i int, v uint64) {
	if r.Modified == nil {
		r.Modified = make(map[int]uint64)
	}
	r.Modified[i] = v
}
