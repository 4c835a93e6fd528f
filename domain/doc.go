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

// Package domain holds the interfaces and data types shared by every Nitro
// component (KVM driver, listener, memory view, introspection backend,
// hook dispatcher). Keeping these in one import-cycle-free
// package lets each component depend only on the interfaces of its
// collaborators, never on their concrete implementations.
package domain
