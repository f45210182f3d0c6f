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
	"math"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
)

const ExtensionNameVariableShapeTensor = "arrow.variable_shape_tensor"

// VariableShapeTensorMetadata describes optional constraints shared by the
// elements of a variable shape tensor array. All three fields are optional;
// the zero value means no declared constraints. A nil entry in UniformShape
// marks a dimension that may vary per element, a non-nil entry declares a
// size constant across all elements. Field order in the struct is the
// serialized key order.
type VariableShapeTensorMetadata struct {
	DimNames     []string `json:"dim_names,omitempty"`
	Permutation  []int64  `json:"permutation,omitempty"`
	UniformShape []*int32 `json:"uniform_shape,omitempty"`
}

// Ndim infers the rank from the first present field, in the priority order
// DimNames, Permutation, UniformShape. The second result is false when all
// three are absent and the rank is undetermined.
func (m VariableShapeTensorMetadata) Ndim() (int, bool) {
	switch {
	case m.DimNames != nil:
		return len(m.DimNames), true
	case m.Permutation != nil:
		return len(m.Permutation), true
	case m.UniformShape != nil:
		return len(m.UniformShape), true
	}
	return 0, false
}

// Validate checks that every present field matches the inferred rank, that
// a present Permutation is a non-empty bijection over its own index range,
// and that every non-nil UniformShape entry is positive.
func (m *VariableShapeTensorMetadata) Validate() error {
	if ndim, ok := m.Ndim(); ok {
		if m.DimNames != nil && len(m.DimNames) != ndim {
			return fmt.Errorf("extensions: dim_names has %d entries, inferred rank is %d", len(m.DimNames), ndim)
		}
		if m.Permutation != nil && len(m.Permutation) != ndim {
			return fmt.Errorf("extensions: permutation has %d entries, inferred rank is %d", len(m.Permutation), ndim)
		}
		if m.UniformShape != nil && len(m.UniformShape) != ndim {
			return fmt.Errorf("extensions: uniform_shape has %d entries, inferred rank is %d", len(m.UniformShape), ndim)
		}
	}

	if m.Permutation != nil {
		if len(m.Permutation) == 0 {
			return fmt.Errorf("extensions: permutation must not be empty when present")
		}
		if err := validatePermutation(m.Permutation, len(m.Permutation)); err != nil {
			return err
		}
	}

	for _, dim := range m.UniformShape {
		if dim != nil && *dim <= 0 {
			return fmt.Errorf("extensions: uniform_shape dimensions must be positive, got %d", *dim)
		}
	}
	return nil
}

// ToJSON serializes the metadata with keys in the fixed order dim_names,
// permutation, uniform_shape. All-absent metadata serializes to "{}".
func (m *VariableShapeTensorMetadata) ToJSON() string {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Errorf("extensions: serializing variable shape tensor metadata: %w", err))
	}
	return string(data)
}

// VariableShapeTensorMetadataFromJSON parses and validates serialized
// metadata. Empty input and "{}" yield the all-absent default without
// invoking the decoder; unknown keys are rejected and the returned metadata
// always satisfies Validate.
func VariableShapeTensorMetadataFromJSON(data string) (VariableShapeTensorMetadata, error) {
	if data == "" || data == "{}" {
		return VariableShapeTensorMetadata{}, nil
	}

	var m VariableShapeTensorMetadata
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return VariableShapeTensorMetadata{}, fmt.Errorf("extensions: invalid variable shape tensor metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return VariableShapeTensorMetadata{}, err
	}
	return m, nil
}

// VariableShapeTensorType is the canonical arrow.variable_shape_tensor
// extension type. Its storage is struct<data: list<valueType>,
// shape: fixed_size_list[ndim]<int32>> with exactly those two field names
// in that order.
type VariableShapeTensorType struct {
	arrow.ExtensionBase

	meta VariableShapeTensorMetadata
}

// NewVariableShapeTensorType creates a variable shape tensor type of rank
// ndim over valueType elements. The optional metadata fields must agree
// with ndim when present.
func NewVariableShapeTensorType(valueType arrow.DataType, ndim int, dimNames []string, permutation []int64, uniformShape []*int32) (*VariableShapeTensorType, error) {
	if ndim < 1 || ndim > math.MaxInt32 {
		return nil, fmt.Errorf("extensions: variable shape tensor rank must be at least 1, got %d", ndim)
	}

	meta := VariableShapeTensorMetadata{DimNames: dimNames, Permutation: permutation, UniformShape: uniformShape}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if n, ok := meta.Ndim(); ok && n != ndim {
		return nil, fmt.Errorf("extensions: declared rank %d does not match metadata rank %d", ndim, n)
	}

	storage := arrow.StructOf(
		arrow.Field{Name: "data", Type: arrow.ListOf(valueType)},
		arrow.Field{Name: "shape", Type: arrow.FixedSizeListOf(int32(ndim), arrow.PrimitiveTypes.Int32)},
	)
	return &VariableShapeTensorType{
		ExtensionBase: arrow.ExtensionBase{Storage: storage},
		meta:          meta,
	}, nil
}

// Metadata returns a copy of the type's tensor metadata.
func (t *VariableShapeTensorType) Metadata() VariableShapeTensorMetadata { return t.meta }

func (t *VariableShapeTensorType) DimNames() []string { return t.meta.DimNames }

func (t *VariableShapeTensorType) Permutation() []int64 { return t.meta.Permutation }

func (t *VariableShapeTensorType) UniformShape() []*int32 { return t.meta.UniformShape }

// Ndim returns the physical rank, fixed by the shape child's list size.
func (t *VariableShapeTensorType) Ndim() int {
	return int(t.shapeField().Type.(*arrow.FixedSizeListType).Len())
}

// ValueType returns the type of the individual tensor values.
func (t *VariableShapeTensorType) ValueType() arrow.DataType {
	return t.dataField().Type.(*arrow.ListType).Elem()
}

func (t *VariableShapeTensorType) dataField() arrow.Field {
	return t.Storage.(*arrow.StructType).Field(0)
}

func (t *VariableShapeTensorType) shapeField() arrow.Field {
	return t.Storage.(*arrow.StructType).Field(1)
}

func (*VariableShapeTensorType) ArrayType() reflect.Type {
	return reflect.TypeOf(VariableShapeTensorArray{})
}

func (*VariableShapeTensorType) ExtensionName() string { return ExtensionNameVariableShapeTensor }

// Serialize returns the metadata JSON carried under ARROW:extension:metadata.
func (t *VariableShapeTensorType) Serialize() string { return t.meta.ToJSON() }

// Deserialize reconstructs the type from serialized metadata and the
// physical storage type. An empty payload is not an error: a variable shape
// tensor may exist with no declared constraints. The storage must be a
// two-field struct of "data" (a list) and "shape" (a fixed-size-list of
// int32) and a metadata-inferred rank must match the shape child's size.
func (*VariableShapeTensorType) Deserialize(storageType arrow.DataType, data string) (arrow.ExtensionType, error) {
	meta, err := VariableShapeTensorMetadataFromJSON(data)
	if err != nil {
		return nil, err
	}

	st, ok := storageType.(*arrow.StructType)
	if !ok {
		return nil, fmt.Errorf("extensions: invalid storage type for VariableShapeTensorType: %s", storageType.Name())
	}
	if st.NumFields() != 2 {
		return nil, fmt.Errorf("extensions: variable shape tensor storage must have exactly 2 children, got %d", st.NumFields())
	}

	dataField, shapeField := st.Field(0), st.Field(1)
	if dataField.Name != "data" || shapeField.Name != "shape" {
		return nil, fmt.Errorf("extensions: variable shape tensor children must be named \"data\" and \"shape\", got %q and %q",
			dataField.Name, shapeField.Name)
	}
	if _, ok := dataField.Type.(*arrow.ListType); !ok {
		return nil, fmt.Errorf("extensions: variable shape tensor data child must be a list, got %s", dataField.Type)
	}
	fsl, ok := shapeField.Type.(*arrow.FixedSizeListType)
	if !ok || !arrow.TypeEqual(fsl.Elem(), arrow.PrimitiveTypes.Int32) {
		return nil, fmt.Errorf("extensions: variable shape tensor shape child must be a fixed size list of int32, got %s",
			shapeField.Type)
	}
	if n, ok := meta.Ndim(); ok && n != int(fsl.Len()) {
		return nil, fmt.Errorf("extensions: metadata rank %d does not match shape child size %d", n, fsl.Len())
	}

	return &VariableShapeTensorType{
		ExtensionBase: arrow.ExtensionBase{Storage: storageType},
		meta:          meta,
	}, nil
}

func (t *VariableShapeTensorType) ExtensionEquals(other arrow.ExtensionType) bool {
	o, ok := other.(*VariableShapeTensorType)
	if !ok {
		return false
	}
	return arrow.TypeEqual(t.Storage, o.Storage) && reflect.DeepEqual(t.meta, o.meta)
}

func (t *VariableShapeTensorType) String() string {
	return fmt.Sprintf("extension<%s[value_type=%s, ndim=%d]>", t.ExtensionName(), t.ValueType(), t.Ndim())
}

// VariableShapeTensorArray is an array of tensors whose shapes vary per
// element, stored as a struct of a "data" list child and a "shape"
// fixed-size-list child.
type VariableShapeTensorArray struct {
	array.ExtensionArrayBase
}

// TensorType returns the array's extension type.
func (a *VariableShapeTensorArray) TensorType() *VariableShapeTensorType {
	return a.DataType().(*VariableShapeTensorType)
}

// Ndim reports the rank declared by the metadata. The second result is
// false when the metadata carries no constraints; the physical rank is
// still available through TensorType().Ndim().
func (a *VariableShapeTensorArray) Ndim() (int, bool) {
	meta := a.TensorType().Metadata()
	return meta.Ndim()
}

// DataChild returns the "data" list child of the storage struct.
func (a *VariableShapeTensorArray) DataChild() arrow.Array {
	return a.Storage().(*array.Struct).Field(0)
}

// ShapeChild returns the "shape" fixed-size-list child of the storage struct.
func (a *VariableShapeTensorArray) ShapeChild() arrow.Array {
	return a.Storage().(*array.Struct).Field(1)
}

// Value returns the flat values of the i-th tensor, in row-major order for
// that element's own shape, as a zero-copy slice of the data child. It
// panics if i is out of range; the caller must Release the returned array.
func (a *VariableShapeTensorArray) Value(i int) arrow.Array {
	if i < 0 || i >= a.Len() {
		panic(fmt.Sprintf("extensions: variable shape tensor index %d out of range [0, %d)", i, a.Len()))
	}
	list := a.DataChild().(*array.List)
	beg, end := list.ValueOffsets(i)
	return array.NewSlice(list.ListValues(), beg, end)
}

// TensorShape returns the shape of the i-th tensor. It panics if i is out
// of range.
func (a *VariableShapeTensorArray) TensorShape(i int) []int32 {
	if i < 0 || i >= a.Len() {
		panic(fmt.Sprintf("extensions: variable shape tensor index %d out of range [0, %d)", i, a.Len()))
	}
	fsl := a.ShapeChild().(*array.FixedSizeList)
	ndim := int(fsl.DataType().(*arrow.FixedSizeListType).Len())
	beg := (fsl.Data().Offset() + i) * ndim
	vals := fsl.ListValues().(*array.Int32).Int32Values()

	out := make([]int32, ndim)
	copy(out, vals[beg:beg+ndim])
	return out
}

func (a *VariableShapeTensorArray) ValueStr(i int) string {
	if a.IsNull(i) {
		return array.NullValueStr
	}
	sub := a.Value(i)
	defer sub.Release()
	return fmt.Sprintf("{shape=%v, data=%s}", a.TensorShape(i), sub)
}

func (a *VariableShapeTensorArray) String() string {
	var o strings.Builder
	o.WriteString("[")
	for i := 0; i < a.Len(); i++ {
		if i > 0 {
			o.WriteString(" ")
		}
		o.WriteString(a.ValueStr(i))
	}
	o.WriteString("]")
	return o.String()
}

// NewVariableShapeTensorArray builds a variable shape tensor array from its
// two children: data, a list array of flat per-element values, and shapes,
// a fixed-size-list array of int32 whose list size equals the type's rank.
// Both children must have the same length. valid, when non-nil, supplies
// per-tensor validity and must have one entry per element.
func NewVariableShapeTensorArray(mem memory.Allocator, typ *VariableShapeTensorType, data, shapes arrow.Array, valid []bool) (*VariableShapeTensorArray, error) {
	if !arrow.TypeEqual(data.DataType(), typ.dataField().Type) {
		return nil, fmt.Errorf("extensions: data child has type %s, expected %s",
			data.DataType(), typ.dataField().Type)
	}
	if !arrow.TypeEqual(shapes.DataType(), typ.shapeField().Type) {
		return nil, fmt.Errorf("extensions: shape child has type %s, expected %s",
			shapes.DataType(), typ.shapeField().Type)
	}
	if data.Len() != shapes.Len() {
		return nil, fmt.Errorf("extensions: data child has %d elements, shape child has %d",
			data.Len(), shapes.Len())
	}

	bitmap, nulls, err := validityBitmap(mem, valid, data.Len())
	if err != nil {
		return nil, err
	}

	structData := array.NewData(typ.StorageType(), data.Len(),
		[]*memory.Buffer{bitmap}, []arrow.ArrayData{data.Data(), shapes.Data()}, nulls, 0)
	defer structData.Release()
	if bitmap != nil {
		bitmap.Release()
	}

	storage := array.NewStructData(structData)
	defer storage.Release()

	return array.NewExtensionArrayWithStorage(typ, storage).(*VariableShapeTensorArray), nil
}

var (
	_ arrow.ExtensionType  = (*VariableShapeTensorType)(nil)
	_ array.ExtensionArray = (*VariableShapeTensorArray)(nil)
)
