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

package kvmdriver

import (
	"fmt"
	"unsafe"

	"github.com/KVM-VMI/nitro/domain"
)

// vcpuHandle is the default domain.VcpuHandleIface implementation.
type vcpuHandle struct {
	index int
	fd    int
}

var _ domain.VcpuHandleIface = (*vcpuHandle)(nil)

func (c *vcpuHandle) Index() int { return c.index }

// GetEvent blocks on the control device until a trap fires. A "no event"
// response (filtering active, nothing matched) is returned as a
// zero-Present RawEvent, not an error.
func (c *vcpuHandle) GetEvent() (domain.RawEvent, error) {
	var we wireEvent
	if err := ioctlFn(c.fd, reqGetEvent, uintptr(unsafe.Pointer(&we))); err != nil {
		return domain.RawEvent{}, fmt.Errorf("%w: GET_EVENT on vcpu %d: %v", domain.ErrVcpuIoFailed, c.index, err)
	}

	if we.Present == 0 {
		return domain.RawEvent{Present: false, VcpuIndex: c.index}, nil
	}

	return domain.RawEvent{
		Present:   true,
		Direction: domain.Direction(we.Direction),
		Kind:      domain.Kind(we.Kind),
		Regs:      we.Regs,
		SRegs:     we.SRegs,
		VcpuIndex: c.index,
	}, nil
}

func (c *vcpuHandle) GetRegs() (domain.Regs, error) {
	var regs domain.Regs
	if err := ioctlFn(c.fd, reqGetRegs, uintptr(unsafe.Pointer(&regs))); err != nil {
		return domain.Regs{}, fmt.Errorf("%w: GET_REGS on vcpu %d: %v", domain.ErrVcpuIoFailed, c.index, err)
	}
	return regs, nil
}

func (c *vcpuHandle) SetRegs(regs domain.Regs) error {
	if err := ioctlFn(c.fd, reqSetRegs, uintptr(unsafe.Pointer(&regs))); err != nil {
		return fmt.Errorf("%w: SET_REGS on vcpu %d: %v", domain.ErrVcpuIoFailed, c.index, err)
	}
	return nil
}

func (c *vcpuHandle) GetSRegs() (domain.SRegs, error) {
	var sregs domain.SRegs
	if err := ioctlFn(c.fd, reqGetSregs, uintptr(unsafe.Pointer(&sregs))); err != nil {
		return domain.SRegs{}, fmt.Errorf("%w: GET_SREGS on vcpu %d: %v", domain.ErrVcpuIoFailed, c.index, err)
	}
	return sregs, nil
}

func (c *vcpuHandle) SetSRegs(sregs domain.SRegs) error {
	if err := ioctlFn(c.fd, reqSetSregs, uintptr(unsafe.Pointer(&sregs))); err != nil {
		return fmt.Errorf("%w: SET_SREGS on vcpu %d: %v", domain.ErrVcpuIoFailed, c.index, err)
	}
	return nil
}

func (c *vcpuHandle) ContinueVM() error {
	if err := ioctlFn(c.fd, reqContinue, 0); err != nil {
		return fmt.Errorf("%w: CONTINUE on vcpu %d: %v", domain.ErrVcpuIoFailed, c.index, err)
	}
	return nil
}

func (c *vcpuHandle) Close() error {
	return closeFn(c.fd)
}
