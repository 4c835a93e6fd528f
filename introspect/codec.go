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
	"bytes"
	"encoding/binary"
	"time"
	"unicode/utf16"
)

// cString trims a fixed-width buffer at its first NUL, for fields like
// EPROCESS.ImageFileName or task_struct.comm that are not NUL-padded all
// the way but aren't guaranteed to use every byte either.
func cString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf)
}

// utf16LEToString decodes a little-endian UTF-16 buffer, as found in a
// Windows UNICODE_STRING's Buffer field.
func utf16LEToString(buf []byte) string {
	u16 := make([]uint16, len(buf)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(buf[i*2 : i*2+2])
	}
	return string(utf16.Decode(u16))
}

// filetimeToTime converts a Windows FILETIME (100ns intervals since the
// 1601-01-01 epoch) to a time.Time.
func filetimeToTime(ft uint64) time.Time {
	const epochDiff100ns = 116444736000000000
	if ft < epochDiff100ns {
		return time.Time{}
	}
	return time.Unix(0, int64((ft-epochDiff100ns)*100)).UTC()
}
