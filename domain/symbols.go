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

// SymbolBundle is the JSON document produced by the memory-symbolication
// collaborator: SSDT dividers/entries plus a nested offsets map.
// Nitro only ever reads this bundle; acquiring it is out of scope.
type SymbolBundle struct {
	SyscallTable []SyscallTableItem          `json:"syscall_table"`
	Offsets      map[string]map[string]int64 `json:"offsets"`
}

// SyscallTableItem is one entry of the syscall_table sequence. A divider
// (Table int set, Entry nil) resets the current table index; an entry
// (Entry set) names the handler symbol at that SSN within the current
// table.
type SyscallTableItem struct {
	Table  *int       `json:"table,omitempty"`
	Entry  *int       `json:"entry,omitempty"`
	Symbol *SymbolRef `json:"symbol,omitempty"`
}

// SymbolRef wraps a resolved kernel symbol name, e.g. "nt!NtOpenFile".
type SymbolRef struct {
	Symbol string `json:"symbol"`
}

// GetOffset looks up offsets[structName][field], as required by the
// Windows/Linux struct readers.
func (b *SymbolBundle) GetOffset(structName, field string) (int64, bool) {
	fields, ok := b.Offsets[structName]
	if !ok {
		return 0, false
	}
	off, ok := fields[field]
	return off, ok
}
