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

// Package nitro is the façade over the tracing components: it composes
// the listener and an introspection backend, binds the hook dispatcher to
// both, and exposes a single lazy sequence of SyscallRecord values plus
// DefineHook/UndefineHook for client code. Every lower-level component
// (kvmdriver, listener, memview, introspect, hooks, symbols) is usable on
// its own; this package only wires them together the way a client program
// normally wants them wired.
package nitro
