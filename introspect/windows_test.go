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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KVM-VMI/nitro/domain"
)

func sym(name string) *domain.SymbolRef { return &domain.SymbolRef{Symbol: name} }

func windowsBundleFixture() *domain.SymbolBundle {
	t0 := 0
	t1 := 1
	return &domain.SymbolBundle{
		SyscallTable: []domain.SyscallTableItem{
			{Table: &t0},
			{Entry: intPtr(0), Symbol: sym("nt!NtClose")},
			{Entry: intPtr(1), Symbol: sym("nt!NtOpenFile")},
			{Table: &t1},
			{Entry: intPtr(5), Symbol: sym("win32k!NtGdiFlush")},
		},
		Offsets: map[string]map[string]int64{
			"win_eprocess": {
				"active_process_links": 0x10,
				"directory_table_base": 0x28,
				"image_file_name":      0x50,
				"unique_process_id":    0x30,
			},
		},
	}
}

func intPtr(n int) *int { return &n }

func TestWindowsNamer_FullNameAndClean(t *testing.T) {
	n, err := newWindowsNamer(windowsBundleFixture())
	require.NoError(t, err)

	full, err := n.fullName(nil, 0)
	require.NoError(t, err)
	require.Equal(t, "nt!NtClose", full)
	require.Equal(t, "NtClose", n.cleanName(full))

	full, err = n.fullName(nil, 1)
	require.NoError(t, err)
	require.Equal(t, "nt!NtOpenFile", full)

	full, err = n.fullName(nil, uint64(5)|uint64(1)<<12)
	require.NoError(t, err)
	require.Equal(t, "win32k!NtGdiFlush", full)

	full, err = n.fullName(nil, uint64(5)|uint64(2)<<12)
	require.NoError(t, err)
	require.Equal(t, "Table2!Unknown", full)

	_, err = n.fullName(nil, 999)
	require.Error(t, err)
}

func TestWindowsNamer_SelectorForName(t *testing.T) {
	n, err := newWindowsNamer(windowsBundleFixture())
	require.NoError(t, err)

	sel, err := n.selectorForName("NtClose")
	require.NoError(t, err)
	require.Equal(t, uint64(0), sel)

	sel, err = n.selectorForName("NtGdiFlush")
	require.NoError(t, err)
	require.Equal(t, uint64(5)|uint64(1)<<12, sel)

	_, err = n.selectorForName("NoSuchSyscall")
	require.Error(t, err)
}

func TestNewWindowsNamer_EmptyTablesError(t *testing.T) {
	_, err := newWindowsNamer(&domain.SymbolBundle{})
	require.Error(t, err)
}

func TestWindowsWalker_ResolveProcess(t *testing.T) {
	mv := newFakeMemView(domain.Windows)

	const (
		headVA   = 0x1000
		eprocA   = 0x2000
		eprocB   = 0x3000
		linksOff = 0x10
		dtbOff   = 0x28
		nameOff  = 0x50
		pidOff   = 0x30
	)

	mv.ksyms["PsActiveProcessHead"] = headVA
	mv.setU64(headVA, eprocA+linksOff)
	mv.setU64(eprocA+linksOff, eprocB+linksOff)
	mv.setU64(eprocB+linksOff, headVA)

	mv.setU64(eprocA+dtbOff, 0x1111)
	mv.setU64(eprocB+dtbOff, 0x2222)

	mv.setBytes(eprocA+nameOff, append([]byte("proca"), 0, 0, 0))
	mv.setBytes(eprocB+nameOff, append([]byte("procb"), 0, 0, 0))
	mv.setU64(eprocA+pidOff, 111)
	mv.setU64(eprocB+pidOff, 222)

	w := &windowsWalker{bundle: windowsBundleFixture()}

	p, err := w.resolveProcess(mv, 0x2222)
	require.NoError(t, err)
	require.Equal(t, uint32(222), p.Pid)
	require.Equal(t, "procb", p.Name)
	require.Equal(t, uint64(0x2222), p.Cr3)

	_, err = w.resolveProcess(mv, 0xdead)
	require.ErrorIs(t, err, domain.ErrProcessNotFound)
}

func TestWindowsWalker_ReadProcessParameters(t *testing.T) {
	mv := newFakeMemView(domain.Windows)

	const (
		eproc   = 0x2000
		pebVA   = 0x4000
		ppVA    = 0x5000
		nameOff = 0x50
		pidOff  = 0x30
		dtbOff  = 0x28
	)

	bundle := windowsBundleFixture()
	bundle.Offsets["win_eprocess"]["peb"] = 0x60
	bundle.Offsets["win_peb"] = map[string]int64{"process_parameters": 0x20}
	bundle.Offsets["win_rtl_user_process_parameters"] = map[string]int64{
		"command_line": 0x70,
	}

	mv.setBytes(eproc+nameOff, append([]byte("cmd.exe"), make([]byte, 8)...))
	mv.setU64(eproc+pidOff, 42)
	mv.setU64(eproc+dtbOff, 0x9999)
	mv.setU64(eproc+0x60, pebVA)
	mv.setU64(pebVA+0x20, ppVA)

	// UNICODE_STRING: Length u16 little-endian, then padding, then Buffer ptr.
	clVA := uint64(ppVA + 0x70)
	text := "C:\\cmd.exe"
	u16 := utf16LEEncode(text)
	mv.setBytes(clVA, []byte{byte(len(u16)), byte(len(u16) >> 8)})
	mv.setU64(clVA+unicodeStringBufferOffset, 0x6000)
	mv.setBytes(0x6000, u16)

	w := &windowsWalker{bundle: bundle}
	p, err := w.readProcess(mv, eproc, 0x9999)
	require.NoError(t, err)
	require.Equal(t, "C:\\cmd.exe", p.CommandLine)
}

func utf16LEEncode(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}
