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

// Package symbols loads the physical-memory symbol bundle: SSDT
// dividers/entries and kernel-struct field offsets, acquired one-shot by an
// external collaborator and handed to Nitro as a JSON document.
package symbols

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/KVM-VMI/nitro/domain"
)

// fs is package-level so tests can swap in afero.NewMemMapFs() without
// plumbing a Fs value through every call site.
var fs afero.Fs = afero.NewOsFs()

// SetFs overrides the backing filesystem; exported for tests.
func SetFs(f afero.Fs) {
	fs = f
}

// Load reads and parses a symbol bundle from path. Parse errors are fatal
// at startup.
func Load(path string) (*domain.SymbolBundle, error) {
	logrus.Debugf("loading symbol bundle from %s", path)

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrSymbolBundleInvalid, path, err)
	}

	var bundle domain.SymbolBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrSymbolBundleInvalid, path, err)
	}

	if len(bundle.SyscallTable) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty syscall_table", domain.ErrSymbolBundleInvalid, path)
	}
	if len(bundle.Offsets) == 0 {
		return nil, fmt.Errorf("%w: %s has no offsets", domain.ErrSymbolBundleInvalid, path)
	}

	return &bundle, nil
}
