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

// ListenerIface runs one worker per VCPU, serialized into a single
// ordered stream via a coordinator. Implementation lives in package
// listener.
type ListenerIface interface {
	// Start spawns the per-VCPU workers and the coordinator. events is
	// closed when the coordinator exits (shutdown or an unrecoverable
	// worker error, the latter surfaced through Err after the channel
	// closes).
	Start() (events <-chan RawEvent, err error)

	// Stop disarms the trap, signals shutdown, drains outstanding resume
	// signals, and waits for all workers. Idempotent; safe to call while
	// Start's channel is still being drained.
	Stop() error

	// Resume releases the VCPU that produced the most recently delivered
	// event, allowing the next one to be pulled from the rendezvous
	// channel. Must be called exactly once per delivered event.
	Resume(event RawEvent)

	// Err returns the first unrecoverable worker error, if any, after the
	// events channel has closed.
	Err() error
}
