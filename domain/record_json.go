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

import (
	"encoding/json"
	"fmt"
)

// eventJSON and recordJSON are the per-record output schema. Nitro never
// opens the output file itself (persistence belongs to the consumer);
// MarshalJSON just gives that consumer a ready-made wire form for a
// JSON-lines sink.
type eventJSON struct {
	Vcpu      int    `json:"vcpu"`
	Type      string `json:"type"`
	Direction string `json:"direction"`
	Cr3       string `json:"cr3"`
	Rax       string `json:"rax"`
}

type processJSON struct {
	Name        string `json:"name"`
	Pid         uint32 `json:"pid"`
	CommandLine string `json:"command_line,omitempty"`
	ImagePath   string `json:"image_path,omitempty"`
	ParentPid   uint32 `json:"parent_pid,omitempty"`
	IsWow64     bool   `json:"iswow64,omitempty"`
}

type recordJSON struct {
	FullName string            `json:"full_name"`
	Name     string            `json:"name"`
	Event    eventJSON         `json:"event"`
	Process  *processJSON      `json:"process,omitempty"`
	Hook     interface{}       `json:"hook,omitempty"`
	Modified map[string]uint64 `json:"modified,omitempty"`
}

// MarshalJSON renders r in the wire output schema.
func (r *SyscallRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		FullName: r.FullName,
		Name:     r.Name,
		Event: eventJSON{
			Vcpu:      r.Event.VcpuIndex,
			Type:      r.Event.Kind.String(),
			Direction: r.Event.Direction.String(),
			Cr3:       fmt.Sprintf("0x%x", r.Event.CR3()),
			Rax:       fmt.Sprintf("0x%x", r.Event.Regs.RAX),
		},
		Hook: r.HookPayload,
	}

	if r.Process != nil {
		out.Process = &processJSON{
			Name:        r.Process.Name,
			Pid:         r.Process.Pid,
			CommandLine: r.Process.CommandLine,
			ImagePath:   r.Process.ImagePath,
			ParentPid:   r.Process.ParentPid,
			IsWow64:     r.Process.IsWow64,
		}
	}

	if len(r.Modified) > 0 {
		out.Modified = make(map[string]uint64, len(r.Modified))
		for i, v := range r.Modified {
			out.Modified[fmt.Sprintf("%d", i)] = v
		}
	}

	return json.Marshal(out)
}
