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

package introspect

import (
	"fmt"
	"strings"

	"github.com/KVM-VMI/nitro/domain"
)

// maxWindowsWalk bounds the PsActiveProcessHead walk so a corrupted list
// cannot spin forever.
const maxWindowsWalk = 100000

// unicodeStringBufferOffset is the Buffer field's offset within a
// UNICODE_STRING (Length u16, MaximumLength u16, 4 bytes of x64 padding,
// then the Buffer pointer).
const unicodeStringBufferOffset = 8

// windowsNamer resolves rax through the two non-null SSDT tables (nt,
// win32k), built once from the symbol bundle.
type windowsNamer struct {
	sdt [2]map[int]string
}

var _ syscallNamer = (*windowsNamer)(nil)

func newWindowsNamer(bundle *domain.SymbolBundle) (*windowsNamer, error) {
	n := &windowsNamer{sdt: [2]map[int]string{make(map[int]string), make(map[int]string)}}

	table := 0
	for _, item := range bundle.SyscallTable {
		if item.Table != nil {
			table = *item.Table
			continue
		}
		if item.Entry == nil || item.Symbol == nil {
			continue
		}
		if table < 0 || table > 1 {
			// The two high tables are always null on Windows.
			continue
		}
		n.sdt[table][*item.Entry] = item.Symbol.Symbol
	}

	if len(n.sdt[0]) == 0 && len(n.sdt[1]) == 0 {
		return nil, fmt.Errorf("%w: syscall_table yielded no nt/win32k entries", domain.ErrSymbolBundleInvalid)
	}
	return n, nil
}

// fullName splits rax into (table, ssn) and looks the handler up in the
// corresponding SDT.
func (n *windowsNamer) fullName(_ domain.MemoryViewIface, rax uint64) (string, error) {
	ssn := int(rax & 0xFFF)
	table := int((rax >> 12) & 0x3)

	if table > 1 {
		return fmt.Sprintf("Table%d!Unknown", table), nil
	}
	if name, ok := n.sdt[table][ssn]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: ssn %d in table %d", domain.ErrIntrospection, ssn, table)
}

// cleanName takes the substring after '!'.
func (n *windowsNamer) cleanName(full string) string {
	if idx := strings.IndexByte(full, '!'); idx >= 0 {
		return full[idx+1:]
	}
	return full
}

func (n *windowsNamer) selectorForName(name string) (uint64, error) {
	for table := 0; table < 2; table++ {
		for ssn, full := range n.sdt[table] {
			if n.cleanName(full) == name {
				return uint64(ssn) | uint64(table)<<12, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", domain.ErrFilterLookup, name)
}

// windowsWalker resolves a cr3 by walking PsActiveProcessHead's
// ActiveProcessLinks ring, using struct offsets from the symbol bundle.
type windowsWalker struct {
	bundle *domain.SymbolBundle
}

var _ processWalker = (*windowsWalker)(nil)

func (w *windowsWalker) offset(structName, field string) (int64, error) {
	return bundleOffset(w.bundle, structName, field)
}

func (w *windowsWalker) resolveProcess(mv domain.MemoryViewIface, cr3 uint64) (*domain.Process, error) {
	headVA, err := mv.KsymToVaddr("PsActiveProcessHead")
	if err != nil {
		return nil, fmt.Errorf("%w: PsActiveProcessHead: %v", domain.ErrIntrospection, err)
	}
	linksOff, err := w.offset("win_eprocess", "active_process_links")
	if err != nil {
		return nil, err
	}
	dtbOff, err := w.offset("win_eprocess", "directory_table_base")
	if err != nil {
		return nil, err
	}

	cur, err := mv.ReadAddrVA(headVA, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PsActiveProcessHead: %v", domain.ErrMemoryAccess, err)
	}

	for i := 0; i < maxWindowsWalk; i++ {
		if cur == 0 || cur == headVA {
			return nil, domain.ErrProcessNotFound
		}

		eproc := cur - uint64(linksOff)
		if dtb, err := mv.ReadAddrVA(eproc+uint64(dtbOff), 0); err == nil && dtb == cr3 {
			return w.readProcess(mv, eproc, dtb)
		}

		next, err := mv.ReadAddrVA(cur, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: walking ActiveProcessLinks: %v", domain.ErrMemoryAccess, err)
		}
		cur = next
	}

	return nil, fmt.Errorf("%w: exceeded max walk depth", domain.ErrProcessNotFound)
}

func (w *windowsWalker) readProcess(mv domain.MemoryViewIface, eproc uint64, dtb uint64) (*domain.Process, error) {
	nameOff, err := w.offset("win_eprocess", "image_file_name")
	if err != nil {
		return nil, err
	}
	pidOff, err := w.offset("win_eprocess", "unique_process_id")
	if err != nil {
		return nil, err
	}

	nameBytes, err := mv.ReadBytes(eproc+uint64(nameOff), 0, 15)
	if err != nil {
		return nil, fmt.Errorf("%w: ImageFileName: %v", domain.ErrMemoryAccess, err)
	}
	pidVal, err := mv.ReadAddrVA(eproc+uint64(pidOff), 0)
	if err != nil {
		return nil, fmt.Errorf("%w: UniqueProcessId: %v", domain.ErrMemoryAccess, err)
	}

	p := &domain.Process{
		Cr3:        dtb,
		KernelAddr: eproc,
		Pid:        uint32(pidVal),
		Name:       cString(nameBytes),
	}

	if off, ok := w.bundle.GetOffset("win_eprocess", "inherited_from_unique_process_id"); ok {
		if v, err := mv.ReadAddrVA(eproc+uint64(off), 0); err == nil {
			p.ParentPid = uint32(v)
		}
	}
	if off, ok := w.bundle.GetOffset("win_eprocess", "create_time"); ok {
		if v, err := mv.ReadAddrVA(eproc+uint64(off), 0); err == nil {
			p.CreateTime = filetimeToTime(v)
		}
	}
	if off, ok := w.bundle.GetOffset("win_eprocess", "wow64_process"); ok {
		if v, err := mv.ReadAddrVA(eproc+uint64(off), 0); err == nil {
			p.IsWow64 = v != 0
		}
	}

	w.readProcessParameters(mv, eproc, p)

	return p, nil
}

// readProcessParameters follows PEB → ProcessParameters → {CommandLine,
// ImagePathName}, reading each pointer hop through the Memory View.
// Failures here
// are non-fatal: the process is still returned with empty string fields.
func (w *windowsWalker) readProcessParameters(mv domain.MemoryViewIface, eproc uint64, p *domain.Process) {
	pebOff, ok := w.bundle.GetOffset("win_eprocess", "peb")
	if !ok {
		return
	}
	peb, err := mv.ReadAddrVA(eproc+uint64(pebOff), 0)
	if err != nil || peb == 0 {
		return
	}

	ppOff, ok := w.bundle.GetOffset("win_peb", "process_parameters")
	if !ok {
		return
	}
	pp, err := mv.ReadAddrVA(peb+uint64(ppOff), p.Pid)
	if err != nil || pp == 0 {
		return
	}

	if clOff, ok := w.bundle.GetOffset("win_rtl_user_process_parameters", "command_line"); ok {
		if s, err := w.readUnicodeString(mv, pp+uint64(clOff), p.Pid); err == nil {
			p.CommandLine = s
		}
	}
	if ipOff, ok := w.bundle.GetOffset("win_rtl_user_process_parameters", "image_path_name"); ok {
		if s, err := w.readUnicodeString(mv, pp+uint64(ipOff), p.Pid); err == nil {
			p.ImagePath = s
		}
	}
}

func (w *windowsWalker) readUnicodeString(mv domain.MemoryViewIface, addr uint64, pid uint32) (string, error) {
	lenBuf, err := mv.ReadBytes(addr, pid, 2)
	if err != nil {
		return "", err
	}
	length := int(lenBuf[0]) | int(lenBuf[1])<<8
	if length == 0 {
		return "", nil
	}
	bufPtr, err := mv.ReadAddrVA(addr+unicodeStringBufferOffset, pid)
	if err != nil || bufPtr == 0 {
		return "", fmt.Errorf("%w: UNICODE_STRING.Buffer", domain.ErrMemoryAccess)
	}
	raw, err := mv.ReadBytes(bufPtr, pid, length)
	if err != nil {
		return "", err
	}
	return utf16LEToString(raw), nil
}

// NewWindowsBackend builds the Windows introspection backend over a symbol bundle
// providing the SSDT and the EPROCESS/PEB struct offsets.
func NewWindowsBackend(mv domain.MemoryViewIface, hooks HookDispatcher, bundle *domain.SymbolBundle) (*Backend, error) {
	namer, err := newWindowsNamer(bundle)
	if err != nil {
		return nil, err
	}
	walker := &windowsWalker{bundle: bundle}
	return newBackend(domain.Windows, mv, hooks, walker, namer), nil
}
