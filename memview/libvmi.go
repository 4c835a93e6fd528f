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

import "github.com/KVM-VMI/nitro/domain"

// rawVMI is the narrow surface MemoryView needs from the introspection
// library. The production implementation (libvmiHandle, linux-only) is a
// thin cgo binding over libvmi.so; tests substitute a fake.
type rawVMI interface {
	translateKsym2V(symbol string) (uint64, error)
	translateV2Ksym(vaddr uint64, pid uint32) (string, error)
	translateKV2P(kvaddr uint64) (uint64, error)

	readAddrVA(va uint64, pid uint32) (uint64, error)
	readStrVA(va uint64, pid uint32) (string, error)
	readVA(va uint64, pid uint32, n int) ([]byte, error)
	writeVA(va uint64, pid uint32, buf []byte) error

	getOffset(name string) (int64, error)
	osType() domain.OSType

	destroy() error
}
