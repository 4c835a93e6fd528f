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

// Package introspect turns a RawEvent into a SyscallRecord by
// resolving the owning process (walking kernel structures through a
// MemoryView), resolving the syscall's name, maintaining the per-VCPU
// entry/exit stack, and running the hook dispatcher. Windows and Linux
// variants share the algorithm in backend.go and differ only in the
// process walk and name resolution (windows.go, linux.go).
package introspect
