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

//go:build linux

package memview

/*
#cgo LDFLAGS: -lvmi
#include <stdlib.h>
#include <libvmi/libvmi.h>

static status_t nitro_init_complete(vmi_instance_t *vmi, const char *name) {
	return vmi_init_complete(vmi, (void *)name, VMI_INIT_DOMAINNAME, NULL, VMI_CONFIG_GLOBAL_FILE_ENTRY, NULL, NULL);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/KVM-VMI/nitro/domain"
)

// libvmiHandle is the cgo-backed rawVMI implementation. One instance wraps
// one vmi_instance_t for the lifetime of the Backend that owns it.
type libvmiHandle struct {
	vmi C.vmi_instance_t
	os  domain.OSType
}

var _ rawVMI = (*libvmiHandle)(nil)

// newLibvmiHandle attaches libvmi to the named domain.
func newLibvmiHandle(domainName string) (*libvmiHandle, error) {
	nameC := C.CString(domainName)
	defer C.free(unsafe.Pointer(nameC))

	var vmi C.vmi_instance_t
	if status := C.nitro_init_complete(&vmi, nameC); status == C.VMI_FAILURE {
		return nil, fmt.Errorf("%w: vmi_init_complete(%s)", domain.ErrHypervisorNotFound, domainName)
	}

	h := &libvmiHandle{vmi: vmi}
	switch C.vmi_get_ostype(vmi) {
	case C.VMI_OS_WINDOWS:
		h.os = domain.Windows
	case C.VMI_OS_LINUX:
		h.os = domain.Linux
	default:
		h.os = domain.Unknown
	}
	return h, nil
}

func (h *libvmiHandle) osType() domain.OSType { return h.os }

func (h *libvmiHandle) translateKsym2V(symbol string) (uint64, error) {
	symC := C.CString(symbol)
	defer C.free(unsafe.Pointer(symC))
	v := C.vmi_translate_ksym2v(h.vmi, symC)
	if v == 0 {
		return 0, fmt.Errorf("%w: translate_ksym2v(%s)", domain.ErrMemoryAccess, symbol)
	}
	return uint64(v), nil
}

func (h *libvmiHandle) translateV2Ksym(vaddr uint64, pid uint32) (string, error) {
	ctx := C.access_context_t{
		translate_mechanism: C.VMI_TM_PROCESS_PID,
		addr:                C.addr_t(vaddr),
		pid:                 C.vmi_pid_t(pid),
	}
	ptr := C.vmi_translate_v2ksym(h.vmi, &ctx, C.addr_t(vaddr))
	if ptr == nil {
		return "", fmt.Errorf("%w: translate_v2ksym(%#x, pid=%d)", domain.ErrMemoryAccess, vaddr, pid)
	}
	defer C.free(unsafe.Pointer(ptr))
	return C.GoString(ptr), nil
}

func (h *libvmiHandle) translateKV2P(kvaddr uint64) (uint64, error) {
	var paddr C.addr_t
	if status := C.vmi_translate_kv2p(h.vmi, C.addr_t(kvaddr), &paddr); status == C.VMI_FAILURE {
		return 0, fmt.Errorf("%w: translate_kv2p(%#x)", domain.ErrMemoryAccess, kvaddr)
	}
	return uint64(paddr), nil
}

func (h *libvmiHandle) readAddrVA(va uint64, pid uint32) (uint64, error) {
	if va == 0 {
		return 0, fmt.Errorf("%w: nullptr read_addr_va", domain.ErrMemoryAccess)
	}
	var value C.addr_t
	if status := C.vmi_read_addr_va(h.vmi, C.addr_t(va), C.vmi_pid_t(pid), &value); status == C.VMI_FAILURE {
		return 0, fmt.Errorf("%w: read_addr_va(%#x, pid=%d)", domain.ErrMemoryAccess, va, pid)
	}
	return uint64(value), nil
}

func (h *libvmiHandle) readStrVA(va uint64, pid uint32) (string, error) {
	if va == 0 {
		return "", fmt.Errorf("%w: nullptr read_str_va", domain.ErrMemoryAccess)
	}
	ptr := C.vmi_read_str_va(h.vmi, C.addr_t(va), C.vmi_pid_t(pid))
	if ptr == nil {
		return "", fmt.Errorf("%w: read_str_va(%#x, pid=%d)", domain.ErrMemoryAccess, va, pid)
	}
	defer C.free(unsafe.Pointer(ptr))
	return C.GoString(ptr), nil
}

func (h *libvmiHandle) readVA(va uint64, pid uint32, n int) ([]byte, error) {
	if va == 0 {
		return nil, fmt.Errorf("%w: nullptr read_va", domain.ErrMemoryAccess)
	}
	buf := C.malloc(C.size_t(n))
	if buf == nil {
		return nil, fmt.Errorf("%w: alloc failure read_va", domain.ErrMemoryAccess)
	}
	defer C.free(buf)

	nbRead := C.vmi_read_va(h.vmi, C.addr_t(va), C.vmi_pid_t(pid), buf, C.size_t(n))
	if int(nbRead) != n {
		return nil, fmt.Errorf("%w: short read_va(%#x, pid=%d): got %d of %d", domain.ErrMemoryAccess, va, pid, nbRead, n)
	}
	return C.GoBytes(buf, C.int(n)), nil
}

func (h *libvmiHandle) writeVA(va uint64, pid uint32, data []byte) error {
	if va == 0 {
		return fmt.Errorf("%w: nullptr write_va", domain.ErrMemoryAccess)
	}
	if len(data) == 0 {
		return nil
	}
	nbWritten := C.vmi_write_va(h.vmi, C.addr_t(va), C.vmi_pid_t(pid), unsafe.Pointer(&data[0]), C.size_t(len(data)))
	if int(nbWritten) != len(data) {
		return fmt.Errorf("%w: short write_va(%#x, pid=%d): wrote %d of %d", domain.ErrMemoryAccess, va, pid, nbWritten, len(data))
	}
	return nil
}

func (h *libvmiHandle) getOffset(name string) (int64, error) {
	nameC := C.CString(name)
	defer C.free(unsafe.Pointer(nameC))
	v := C.vmi_get_offset(h.vmi, nameC)
	if v == 0 {
		return 0, fmt.Errorf("%w: get_offset(%s)", domain.ErrSymbolBundleInvalid, name)
	}
	return int64(v), nil
}

func (h *libvmiHandle) destroy() error {
	C.vmi_destroy(h.vmi)
	return nil
}
