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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/KVM-VMI/nitro/domain"
)

const defaultControlDevice = "/dev/nitro"

// Driver is the default domain.DriverIface implementation: it opens the
// hypervisor's control device and issues an ATTACH_VM request.
type Driver struct {
	// DevicePath overrides the control-device path; defaults to
	// /dev/nitro. Exported so cmd/nitro can wire a flag through.
	DevicePath string
}

var _ domain.DriverIface = (*Driver)(nil)

func New() *Driver {
	return &Driver{DevicePath: defaultControlDevice}
}

func (d *Driver) devicePath() string {
	if d.DevicePath != "" {
		return d.DevicePath
	}
	return defaultControlDevice
}

// Attach verifies qemuPid denotes a live process, opens the control
// device, and issues ATTACH_VM.
func (d *Driver) Attach(qemuPid int) (domain.VmHandleIface, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", qemuPid)); err != nil {
		return nil, fmt.Errorf("%w: pid %d: %v", domain.ErrHypervisorNotFound, qemuPid, err)
	}

	fd, err := unix.Open(d.devicePath(), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", domain.ErrAttachFailed, d.devicePath(), err)
	}

	pid := int32(qemuPid)
	if err := ioctlFn(fd, reqAttachVM, uintptr(unsafe.Pointer(&pid))); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: ATTACH_VM(pid=%d): %v", domain.ErrAttachFailed, qemuPid, err)
	}

	logrus.Debugf("attached to hypervisor process %d via %s (fd %d)", qemuPid, d.devicePath(), fd)

	return &vmHandle{fd: fd}, nil
}

// FindQemuPid locates a running emulator process for the given domain name,
// first by a well-known pid file, falling back to scanning /proc for a
// matching command line.
func FindQemuPid(domainName, pidFileDir string) (int, error) {
	if pidFileDir != "" {
		pidFile := filepath.Join(pidFileDir, domainName+".pid")
		if data, err := os.ReadFile(pidFile); err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				return pid, nil
			}
		}
	}

	procEntries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("%w: scanning /proc: %v", domain.ErrHypervisorNotFound, err)
	}

	for _, entry := range procEntries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		cmdline, err := readCmdline(pid)
		if err != nil {
			continue
		}

		if strings.Contains(cmdline, domainName) {
			return pid, nil
		}
	}

	return 0, fmt.Errorf("%w: no emulator process for domain %q", domain.ErrHypervisorNotFound, domainName)
}

func readCmdline(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "\x00", " "), nil
}
