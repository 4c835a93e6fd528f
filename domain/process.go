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

import "time"

// Process identifies the guest process that issued a syscall. Cr3 is the
// primary key in the Backend's process cache and uniquely identifies a
// process for as long as it exists.
type Process struct {
	Cr3        uint64
	KernelAddr uint64 // EPROCESS (Windows) or task_struct (Linux) address
	Pid        uint32
	Name       string

	// Windows-only fields; zero-valued on Linux.
	CommandLine string
	ImagePath   string
	CreateTime  time.Time
	ParentPid   uint32
	IsWow64     bool
}

// ProcessCache is a Cr3-keyed, append-only cache of resolved processes. It
// is mutated only by the Backend goroutine.
type ProcessCache struct {
	byCr3 map[uint64]*Process
}

func NewProcessCache() *ProcessCache {
	return &ProcessCache{byCr3: make(map[uint64]*Process)}
}

func (c *ProcessCache) Lookup(cr3 uint64) (*Process, bool) {
	p, ok := c.byCr3[cr3]
	return p, ok
}

func (c *ProcessCache) Insert(p *Process) {
	c.byCr3[p.Cr3] = p
}

func (c *ProcessCache) Len() int {
	return len(c.byCr3)
}
