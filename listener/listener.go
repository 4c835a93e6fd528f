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

// Package listener spawns one worker per VCPU and serializes their
// raw events into a single ordered stream through a bounded rendezvous
// channel, and coordinates the hypervisor's pause/continue protocol.
package listener

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KVM-VMI/nitro/domain"
)

// pollInterval is how often the coordinator checks for shutdown while
// waiting on the rendezvous channel.
const pollInterval = 100 * time.Millisecond

type rendezvousItem struct {
	event  domain.RawEvent
	resume chan struct{}
}

// Listener is the default domain.ListenerIface implementation.
type Listener struct {
	vm     domain.VmHandleIface
	vcpus  []domain.VcpuHandleIface
	domain domain.DomainController

	rendezvous chan rendezvousItem
	out        chan domain.RawEvent
	shutdown   chan struct{}
	shutOnce   sync.Once
	stopOnce   sync.Once
	stopErr    error

	wg        sync.WaitGroup
	workerErr chan error

	resumed chan struct{}

	mu            sync.Mutex
	pendingResume chan struct{}
	pendingVcpu   int
	haveErr       bool
	err           error
}

var _ domain.ListenerIface = (*Listener)(nil)

// New constructs a Listener over an already-attached VM handle and its
// VCPUs. dc brackets trap-state changes across pause/resume; a
// nil dc means the caller manages domain pause/resume itself.
func New(vm domain.VmHandleIface, vcpus []domain.VcpuHandleIface, dc domain.DomainController) *Listener {
	return &Listener{
		vm:         vm,
		vcpus:      vcpus,
		domain:     dc,
		rendezvous: make(chan rendezvousItem, 1),
		out:        make(chan domain.RawEvent),
		shutdown:   make(chan struct{}),
		workerErr:  make(chan error, len(vcpus)),
		resumed:    make(chan struct{}, 1),
	}
}

// Start arms the trap (bracketed by domain pause/resume) and spawns one
// worker goroutine per VCPU plus the coordinator.
func (l *Listener) Start() (<-chan domain.RawEvent, error) {
	if err := l.withDomainPaused(func() error {
		return l.vm.SetSyscallTrap(true)
	}); err != nil {
		return nil, fmt.Errorf("%w: arming syscall trap: %v", domain.ErrVcpuIoFailed, err)
	}

	for _, vcpu := range l.vcpus {
		l.wg.Add(1)
		go l.workerLoop(vcpu)
	}

	go l.coordinatorLoop()

	return l.out, nil
}

func (l *Listener) withDomainPaused(fn func() error) error {
	if l.domain == nil {
		return fn()
	}
	if err := l.domain.Suspend(); err != nil {
		return err
	}
	defer l.domain.Resume()
	return fn()
}

// workerLoop: block on GetEvent, push into the rendezvous channel, wait
// for resume, then continue the VCPU.
func (l *Listener) workerLoop(vcpu domain.VcpuHandleIface) {
	defer l.wg.Done()

	for {
		select {
		case <-l.shutdown:
			return
		default:
		}

		event, err := vcpu.GetEvent()
		if err != nil {
			l.workerErr <- fmt.Errorf("vcpu %d: %w", vcpu.Index(), err)
			return
		}

		// "No event" (filtering active, no match) is success, not an
		// error. Loop back around.
		if !event.Present {
			continue
		}

		resumeCh := make(chan struct{}, 1)
		select {
		case l.rendezvous <- rendezvousItem{event: event, resume: resumeCh}:
		case <-l.shutdown:
			return
		}

		select {
		case <-resumeCh:
		case <-l.shutdown:
			return
		}

		if err := vcpu.ContinueVM(); err != nil {
			l.workerErr <- fmt.Errorf("vcpu %d: continue: %w", vcpu.Index(), err)
			return
		}
	}
}

// coordinatorLoop: pull from the channel with a short poll timeout; on
// timeout, check the domain is still active; otherwise forward the event
// and wait for the client to call Resume.
func (l *Listener) coordinatorLoop() {
	defer close(l.out)

	for {
		select {
		case <-l.shutdown:
			// Workers are joined in Stop, not here: one blocked in
			// GetEvent only returns once the trap is disarmed, and
			// waiting for that would hold the out channel open long
			// after shutdown was requested.
			l.drainResumes()
			return

		case werr := <-l.workerErr:
			l.mu.Lock()
			l.haveErr = true
			l.err = werr
			l.mu.Unlock()
			l.initiateShutdown()

		case item := <-l.rendezvous:
			l.mu.Lock()
			l.pendingResume = item.resume
			l.pendingVcpu = item.event.VcpuIndex
			l.mu.Unlock()

			select {
			case l.out <- item.event:
			case <-l.shutdown:
				l.drainResumes()
				return
			}

			// Do not pull the next rendezvous item until the client has
			// called Resume for this one. This is what keeps at most one
			// event in flight across all VCPUs at any instant.
			select {
			case <-l.resumed:
			case <-l.shutdown:
				l.drainResumes()
				return
			}

		case <-time.After(pollInterval):
			if l.domain != nil && !l.domain.IsActive() {
				l.initiateShutdown()
			}
		}
	}
}

// Resume releases the VCPU that produced the most recently delivered
// event. Exactly one call is expected per delivered event (the
// at-most-one-in-flight invariant means there is never ambiguity about
// which VCPU a bare call refers to).
func (l *Listener) Resume(event domain.RawEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pendingResume == nil || l.pendingVcpu != event.VcpuIndex {
		return
	}

	select {
	case l.pendingResume <- struct{}{}:
	default:
	}
	l.pendingResume = nil

	select {
	case l.resumed <- struct{}{}:
	default:
	}
}

func (l *Listener) drainResumes() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingResume != nil {
		select {
		case l.pendingResume <- struct{}{}:
		default:
		}
		l.pendingResume = nil
	}
}

func (l *Listener) initiateShutdown() {
	l.shutOnce.Do(func() {
		close(l.shutdown)
	})
}

// Stop disarms the trap (bracketed by domain pause/resume) and waits for
// every worker to exit. Idempotent and safe to call while Start's channel
// is still being drained.
func (l *Listener) Stop() error {
	l.stopOnce.Do(func() {
		// Disarm first: workers blocked in GetEvent rely on the kernel side
		// releasing them once the trap is off.
		err := l.withDomainPaused(func() error {
			return l.vm.SetSyscallTrap(false)
		})
		if err != nil {
			logrus.Warnf("listener: failed to disarm syscall trap on stop: %v", err)
		}

		l.initiateShutdown()
		l.wg.Wait()

		l.stopErr = l.vm.Close()
	})
	return l.stopErr
}

func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.haveErr {
		return nil
	}
	return l.err
}
