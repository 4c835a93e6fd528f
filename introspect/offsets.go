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

package introspect

import (
	"fmt"

	"github.com/KVM-VMI/nitro/domain"
)

// bundleOffset looks up offsets[structName][field] in the symbol bundle,
// wrapping a miss in ErrSymbolBundleInvalid.
func bundleOffset(bundle *domain.SymbolBundle, structName, field string) (int64, error) {
	off, ok := bundle.GetOffset(structName, field)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", domain.ErrSymbolBundleInvalid, structName, field)
	}
	return off, nil
}
