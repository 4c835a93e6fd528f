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

// Package memview is a cached view over the virtual-machine
// introspection library used for virtual-to-physical translation and
// paged reads/writes. The cgo binding in libvmi_linux.go talks to
// libvmi.so directly; MemoryView layers the four cache domains and the
// domain.MemoryViewIface contract on top of it.
package memview
