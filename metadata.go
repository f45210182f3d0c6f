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
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Reserved field-metadata keys carrying the extension annotation, as
// defined by the Arrow columnar specification.
const (
	ExtensionNameKey     = "ARROW:extension:name"
	ExtensionMetadataKey = "ARROW:extension:metadata"
)

// InitExtensionMetadata returns existing with the two reserved extension
// keys appended after all prior pairs. If existing already carries
// ExtensionNameKey with the value name, it is returned unchanged so that a
// payload attached by an earlier step is never clobbered.
func InitExtensionMetadata(existing arrow.Metadata, name, serialized string) arrow.Metadata {
	keys, values := existing.Keys(), existing.Values()
	for i, k := range keys {
		if k == ExtensionNameKey && values[i] == name {
			return existing
		}
	}

	outKeys := make([]string, 0, len(keys)+2)
	outKeys = append(outKeys, keys...)
	outKeys = append(outKeys, ExtensionNameKey, ExtensionMetadataKey)

	outValues := make([]string, 0, len(values)+2)
	outValues = append(outValues, values...)
	outValues = append(outValues, name, serialized)

	return arrow.NewMetadata(outKeys, outValues)
}

// ExtensionNameOf reports the value of the reserved extension name key.
func ExtensionNameOf(md arrow.Metadata) (string, bool) {
	idx := md.FindKey(ExtensionNameKey)
	if idx < 0 {
		return "", false
	}
	return md.Values()[idx], true
}

// ExtensionPayload reports the serialized extension metadata carried under
// the reserved metadata key.
func ExtensionPayload(md arrow.Metadata) (string, bool) {
	idx := md.FindKey(ExtensionMetadataKey)
	if idx < 0 {
		return "", false
	}
	return md.Values()[idx], true
}

// ExtensionField builds a storage-typed field annotated with the reserved
// extension keys, for consumers that exchange schemas without a live
// extension registry. Caller-supplied pairs in extra come first; the
// reserved pairs are embedded last so they are present even if extra
// carries colliding custom keys.
func ExtensionField(name string, typ arrow.ExtensionType, nullable bool, extra arrow.Metadata) arrow.Field {
	return arrow.Field{
		Name:     name,
		Type:     typ.StorageType(),
		Nullable: nullable,
		Metadata: InitExtensionMetadata(extra, typ.ExtensionName(), typ.Serialize()),
	}
}

// FromField resolves the extension type annotated on a storage-typed field,
// reversing ExtensionField. A fixed shape tensor field must carry the
// serialized metadata payload; a variable shape tensor field without one
// yields a type with no declared per-dimension constraints. Extension names
// other than the two tensor kinds are resolved through the process-wide
// registry.
func FromField(field arrow.Field) (arrow.ExtensionType, error) {
	name, ok := ExtensionNameOf(field.Metadata)
	if !ok {
		return nil, fmt.Errorf("extensions: field %q carries no %q key", field.Name, ExtensionNameKey)
	}

	payload, hasPayload := ExtensionPayload(field.Metadata)
	switch name {
	case ExtensionNameFixedShapeTensor:
		if !hasPayload {
			return nil, fmt.Errorf("extensions: field %q is missing %q required by %s",
				field.Name, ExtensionMetadataKey, name)
		}
		return (&FixedShapeTensorType{}).Deserialize(field.Type, payload)
	case ExtensionNameVariableShapeTensor:
		return (&VariableShapeTensorType{}).Deserialize(field.Type, payload)
	default:
		if typ := arrow.GetExtensionType(name); typ != nil {
			return typ.Deserialize(field.Type, payload)
		}
		return nil, fmt.Errorf("extensions: unrecognized extension name %q on field %q", name, field.Name)
	}
}
