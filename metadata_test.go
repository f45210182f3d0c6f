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

package extensions_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	extensions "github.com/sparrow-org/sparrow-extensions"
)

func TestInitExtensionMetadataAppendsReservedKeys(t *testing.T) {
	existing := arrow.NewMetadata([]string{"owner"}, []string{"ingest"})

	md := extensions.InitExtensionMetadata(existing, "arrow.fixed_shape_tensor", `{"shape":[2]}`)
	require.Equal(t, []string{"owner", extensions.ExtensionNameKey, extensions.ExtensionMetadataKey}, md.Keys())
	require.Equal(t, []string{"ingest", "arrow.fixed_shape_tensor", `{"shape":[2]}`}, md.Values())
}

func TestInitExtensionMetadataIdempotent(t *testing.T) {
	md := extensions.InitExtensionMetadata(arrow.Metadata{}, "arrow.fixed_shape_tensor", `{"shape":[2]}`)

	// re-embedding with the same name must not clobber the existing payload
	again := extensions.InitExtensionMetadata(md, "arrow.fixed_shape_tensor", `{"shape":[999]}`)
	require.True(t, md.Equal(again))

	count := 0
	for _, k := range again.Keys() {
		if k == extensions.ExtensionNameKey {
			count++
		}
	}
	require.Equal(t, 1, count)

	payload, ok := extensions.ExtensionPayload(again)
	require.True(t, ok)
	require.Equal(t, `{"shape":[2]}`, payload)
}

func TestExtensionLookupHelpers(t *testing.T) {
	_, ok := extensions.ExtensionNameOf(arrow.Metadata{})
	require.False(t, ok)
	_, ok = extensions.ExtensionPayload(arrow.Metadata{})
	require.False(t, ok)

	md := extensions.InitExtensionMetadata(arrow.Metadata{}, "arrow.variable_shape_tensor", "{}")
	name, ok := extensions.ExtensionNameOf(md)
	require.True(t, ok)
	require.Equal(t, "arrow.variable_shape_tensor", name)
}

func TestExtensionFieldRoundTrip(t *testing.T) {
	typ, err := extensions.NewFixedShapeTensorType(arrow.PrimitiveTypes.Float32, []int64{2, 3}, []string{"x", "y"}, nil)
	require.NoError(t, err)

	extra := arrow.NewMetadata([]string{"shape_hint"}, []string{"image"})
	field := extensions.ExtensionField("img", typ, true, extra)

	require.Equal(t, "img", field.Name)
	require.True(t, arrow.TypeEqual(typ.StorageType(), field.Type))
	require.Equal(t, "image", field.Metadata.Values()[0]) // caller pairs come first

	got, err := extensions.FromField(field)
	require.NoError(t, err)
	require.True(t, typ.ExtensionEquals(got))
}

func TestFromFieldPayloadAsymmetry(t *testing.T) {
	fixed, err := extensions.NewFixedShapeTensorType(arrow.PrimitiveTypes.Int64, []int64{4}, nil, nil)
	require.NoError(t, err)

	// fixed shape tensors cannot exist without a serialized shape
	_, err = extensions.FromField(arrow.Field{
		Name:     "t",
		Type:     fixed.StorageType(),
		Metadata: arrow.NewMetadata([]string{extensions.ExtensionNameKey}, []string{"arrow.fixed_shape_tensor"}),
	})
	require.ErrorContains(t, err, "missing")

	// variable shape tensors default to "no declared constraints"
	variable, err := extensions.NewVariableShapeTensorType(arrow.PrimitiveTypes.Int64, 2, nil, nil, nil)
	require.NoError(t, err)

	got, err := extensions.FromField(arrow.Field{
		Name:     "t",
		Type:     variable.StorageType(),
		Metadata: arrow.NewMetadata([]string{extensions.ExtensionNameKey}, []string{"arrow.variable_shape_tensor"}),
	})
	require.NoError(t, err)
	_, ok := got.(*extensions.VariableShapeTensorType).Metadata().Ndim()
	require.False(t, ok)
}

func TestFromFieldErrors(t *testing.T) {
	_, err := extensions.FromField(arrow.Field{Name: "plain", Type: arrow.PrimitiveTypes.Int64})
	require.ErrorContains(t, err, "carries no")

	_, err = extensions.FromField(arrow.Field{
		Name:     "t",
		Type:     arrow.PrimitiveTypes.Int64,
		Metadata: arrow.NewMetadata([]string{extensions.ExtensionNameKey}, []string{"vendor.unknown"}),
	})
	require.ErrorContains(t, err, "unrecognized extension name")
}

func TestRegisterExtensionTypes(t *testing.T) {
	require.NoError(t, extensions.RegisterExtensionTypes())
	require.NotNil(t, arrow.GetExtensionType(extensions.ExtensionNameFixedShapeTensor))
	require.NotNil(t, arrow.GetExtensionType(extensions.ExtensionNameVariableShapeTensor))

	// repeat registration is a no-op
	require.NoError(t, extensions.RegisterExtensionTypes())

	require.NoError(t, extensions.UnregisterExtensionTypes())
	require.Nil(t, arrow.GetExtensionType(extensions.ExtensionNameFixedShapeTensor))

	// unregistering again is also a no-op
	require.NoError(t, extensions.UnregisterExtensionTypes())
}
