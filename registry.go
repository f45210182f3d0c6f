// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extensions

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// RegisterExtensionTypes registers prototype instances of both tensor
// extension types with the process-wide registry so IPC readers resolve
// the reserved metadata keys into typed arrays. Registration is explicit
// rather than an init side effect so callers control ordering and observe
// failures; calling it again after a successful registration is a no-op.
func RegisterExtensionTypes() error {
	if arrow.GetExtensionType(ExtensionNameFixedShapeTensor) == nil {
		fixed, err := NewFixedShapeTensorType(arrow.PrimitiveTypes.Float64, []int64{1}, nil, nil)
		if err != nil {
			return err
		}
		if err := arrow.RegisterExtensionType(fixed); err != nil {
			return err
		}
	}

	if arrow.GetExtensionType(ExtensionNameVariableShapeTensor) == nil {
		variable, err := NewVariableShapeTensorType(arrow.PrimitiveTypes.Float64, 1, nil, nil, nil)
		if err != nil {
			return err
		}
		if err := arrow.RegisterExtensionType(variable); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterExtensionTypes removes both tensor extension types from the
// process-wide registry. Types that are not registered are skipped.
func UnregisterExtensionTypes() error {
	for _, name := range []string{ExtensionNameFixedShapeTensor, ExtensionNameVariableShapeTensor} {
		if arrow.GetExtensionType(name) == nil {
			continue
		}
		if err := arrow.UnregisterExtensionType(name); err != nil {
			return err
		}
	}
	return nil
}
