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

// DomainController is the VM-lifecycle collaborator, external to this
// module. Every change to the syscall-trap state must be bracketed by
// Suspend()/Resume(), and
// IsActive() lets the Listener tell a real shutdown apart from a transient
// lull in traffic.
type DomainController interface {
	Suspend() error
	Resume() error
	IsActive() bool
}
