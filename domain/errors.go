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

import "errors"

// Sentinel error kinds, matched with errors.Is;
// component-specific context is wrapped around them with fmt.Errorf("%w").
var (
	ErrHypervisorNotFound  = errors.New("nitro: hypervisor process not found")
	ErrAttachFailed        = errors.New("nitro: failed to attach to vm")
	ErrVcpuIoFailed        = errors.New("nitro: vcpu i/o failed")
	ErrMemoryAccess        = errors.New("nitro: memory access error")
	ErrIntrospection       = errors.New("nitro: introspection failure")
	ErrSymbolBundleInvalid = errors.New("nitro: invalid symbol bundle")
	ErrProcessNotFound     = errors.New("nitro: process not found")
	ErrFilterLookup        = errors.New("nitro: syscall filter lookup failed")
	ErrHookDispatch        = errors.New("nitro: hook dispatch error")
)
