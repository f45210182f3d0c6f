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

	"github.com/JohnCGriffin/overflow"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/tensor"
	"github.com/goccy/go-json"
)

const ExtensionNameFixedShapeTensor = "arrow.fixed_shape_tensor"

// FixedShapeTensorMetadata describes the logical layout shared by every
// element of a fixed shape tensor array. Shape is required; DimNames and
// Permutation are optional and, when present, must have the same length as
// Shape. Field order in the struct is the serialized key order.
type FixedShapeTensorMetadata struct {
	Shape       []int64  `json:"shape"`
	DimNames    []string `json:"dim_names,omitempty"`
	Permutation []int64  `json:"permutation,omitempty"`
}

// Validate checks the structural invariants: a non-empty all-positive
// shape, matching DimNames length, and a Permutation that is a true
// permutation of [0, rank).
func (m *FixedShapeTensorMetadata) Validate() error {
	if len(m.Shape) == 0 {
		return fmt.Errorf("extensions: fixed shape tensor shape must not be empty")
	}
	for _, dim := range m.Shape {
		if dim <= 0 {
			return fmt.Errorf("extensions: fixed shape tensor dimensions must be positive, got %d", dim)
		}
	}
	if m.DimNames != nil && len(m.DimNames) != len(m.Shape) {
		return fmt.Errorf("extensions: dim_names has %d entries, shape has %d dimensions",
			len(m.DimNames), len(m.Shape))
	}
	if m.Permutation != nil {
		if err := validatePermutation(m.Permutation, len(m.Shape)); err != nil {
			return err
		}
	}
	return nil
}

// ElementSize returns the flat number of values per tensor, the product of
// Shape. It performs no validation; call Validate first for a meaningful
// result.
func (m *FixedShapeTensorMetadata) ElementSize() int64 {
	size := int64(1)
	for _, dim := range m.Shape {
		size *= dim
	}
	return size
}

// ToJSON serializes the metadata with keys in the fixed order
// shape, dim_names, permutation.
func (m *FixedShapeTensorMetadata) ToJSON() string {
	data, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Errorf("extensions: serializing fixed shape tensor metadata: %w", err))
	}
	return string(data)
}

// FixedShapeTensorMetadataFromJSON parses and validates serialized
// metadata. The shape key is required and unknown keys are rejected; the
// returned metadata always satisfies Validate.
func FixedShapeTensorMetadataFromJSON(data string) (FixedShapeTensorMetadata, error) {
	var m FixedShapeTensorMetadata
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return FixedShapeTensorMetadata{}, fmt.Errorf("extensions: invalid fixed shape tensor metadata: %w", err)
	}
	if len(m.Shape) == 0 {
		return FixedShapeTensorMetadata{}, fmt.Errorf("extensions: fixed shape tensor metadata is missing required %q", "shape")
	}
	if err := m.Validate(); err != nil {
		return FixedShapeTensorMetadata{}, err
	}
	return m, nil
}

// validatePermutation checks that perm is a bijection over [0, n) using a
// single-pass seen array, rejecting duplicates and out-of-range indices in
// the same scan.
func validatePermutation(perm []int64, n int) error {
	if len(perm) != n {
		return fmt.Errorf("extensions: permutation has %d entries, expected %d", len(perm), n)
	}
	seen := make([]bool, n)
	for _, idx := range perm {
		if idx < 0 || idx >= int64(n) || seen[idx] {
			return fmt.Errorf("extensions: permutation %v is not a permutation of [0, %d)", perm, n)
		}
		seen[idx] = true
	}
	return nil
}

// FixedShapeTensorType is the canonical arrow.fixed_shape_tensor extension
// type. Its storage is a fixed-size-list whose list size equals the product
// of the metadata shape.
type FixedShapeTensorType struct {
	arrow.ExtensionBase

	meta FixedShapeTensorMetadata
}

// NewFixedShapeTensorType creates a fixed shape tensor type over valueType
// elements. dimNames and permutation are optional; when present they must
// match the rank of shape.
func NewFixedShapeTensorType(valueType arrow.DataType, shape []int64, dimNames []string, permutation []int64) (*FixedShapeTensorType, error) {
	meta := FixedShapeTensorMetadata{Shape: shape, DimNames: dimNames, Permutation: permutation}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	size := int64(1)
	for _, dim := range shape {
		var ok bool
		if size, ok = overflow.Mul64(size, dim); !ok {
			return nil, fmt.Errorf("extensions: fixed shape tensor element size overflows int64 for shape %v", shape)
		}
	}
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("extensions: fixed shape tensor element size %d exceeds the fixed size list limit", size)
	}

	return &FixedShapeTensorType{
		ExtensionBase: arrow.ExtensionBase{Storage: arrow.FixedSizeListOf(int32(size), valueType)},
		meta:          meta,
	}, nil
}

// Metadata returns a copy of the type's tensor metadata.
func (t *FixedShapeTensorType) Metadata() FixedShapeTensorMetadata { return t.meta }

func (t *FixedShapeTensorType) Shape() []int64 { return t.meta.Shape }

func (t *FixedShapeTensorType) DimNames() []string { return t.meta.DimNames }

func (t *FixedShapeTensorType) Permutation() []int64 { return t.meta.Permutation }

// ValueType returns the type of the individual tensor values.
func (t *FixedShapeTensorType) ValueType() arrow.DataType {
	return t.Storage.(*arrow.FixedSizeListType).Elem()
}

// ElementSize returns the flat number of values per tensor.
func (t *FixedShapeTensorType) ElementSize() int64 { return t.meta.ElementSize() }

func (*FixedShapeTensorType) ArrayType() reflect.Type {
	return reflect.TypeOf(FixedShapeTensorArray{})
}

func (*FixedShapeTensorType) ExtensionName() string { return ExtensionNameFixedShapeTensor }

// Serialize returns the metadata JSON carried under ARROW:extension:metadata.
func (t *FixedShapeTensorType) Serialize() string { return t.meta.ToJSON() }

// Deserialize reconstructs the type from serialized metadata and the
// physical storage type, checking that the two cohere: the storage must be
// a fixed-size-list whose list size equals the metadata shape product.
func (*FixedShapeTensorType) Deserialize(storageType arrow.DataType, data string) (arrow.ExtensionType, error) {
	meta, err := FixedShapeTensorMetadataFromJSON(data)
	if err != nil {
		return nil, err
	}

	fsl, ok := storageType.(*arrow.FixedSizeListType)
	if !ok {
		return nil, fmt.Errorf("extensions: invalid storage type for FixedShapeTensorType: %s", storageType.Name())
	}
	if int64(fsl.Len()) != meta.ElementSize() {
		return nil, fmt.Errorf("extensions: storage list size %d does not match shape %v (product %d)",
			fsl.Len(), meta.Shape, meta.ElementSize())
	}

	return &FixedShapeTensorType{
		ExtensionBase: arrow.ExtensionBase{Storage: storageType},
		meta:          meta,
	}, nil
}

func (t *FixedShapeTensorType) ExtensionEquals(other arrow.ExtensionType) bool {
	o, ok := other.(*FixedShapeTensorType)
	if !ok {
		return false
	}
	return arrow.TypeEqual(t.Storage, o.Storage) && reflect.DeepEqual(t.meta, o.meta)
}

func (t *FixedShapeTensorType) String() string {
	return fmt.Sprintf("extension<%s[value_type=%s, shape=%v]>", t.ExtensionName(), t.ValueType(), t.meta.Shape)
}

// FixedShapeTensorArray is an array of tensors sharing one shape, stored as
// a fixed-size-list of flat row-major values.
type FixedShapeTensorArray struct {
	array.ExtensionArrayBase
}

// TensorType returns the array's extension type.
func (a *FixedShapeTensorArray) TensorType() *FixedShapeTensorType {
	return a.DataType().(*FixedShapeTensorType)
}

// Value returns the flat values of the i-th tensor as a zero-copy slice of
// the storage. It panics if i is out of range; the caller must Release the
// returned array.
func (a *FixedShapeTensorArray) Value(i int) arrow.Array {
	if i < 0 || i >= a.Len() {
		panic(fmt.Sprintf("extensions: fixed shape tensor index %d out of range [0, %d)", i, a.Len()))
	}
	storage := a.Storage().(*array.FixedSizeList)
	n := int64(storage.DataType().(*arrow.FixedSizeListType).Len())
	j := int64(storage.Data().Offset() + i)
	return array.NewSlice(storage.ListValues(), j*n, (j+1)*n)
}

func (a *FixedShapeTensorArray) ValueStr(i int) string {
	if a.IsNull(i) {
		return array.NullValueStr
	}
	sub := a.Value(i)
	defer sub.Release()
	return sub.String()
}

func (a *FixedShapeTensorArray) String() string {
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

// Tensor materializes the i-th element as an arrow tensor. The permutation
// is applied so the tensor reports storage-order dimensions: dimension k of
// the result is shape[permutation[k]] with row-major strides. Returns an
// error for null elements and for value types the tensor package cannot
// represent. The caller must Release the returned tensor.
func (a *FixedShapeTensorArray) Tensor(i int) (tensor.Interface, error) {
	if i < 0 || i >= a.Len() {
		return nil, fmt.Errorf("extensions: fixed shape tensor index %d out of range [0, %d)", i, a.Len())
	}
	if a.IsNull(i) {
		return nil, fmt.Errorf("extensions: cannot materialize null tensor element %d", i)
	}

	typ := a.TensorType()
	if !tensorSupported(typ.ValueType().ID()) {
		return nil, fmt.Errorf("extensions: value type %s is not supported by arrow tensors", typ.ValueType())
	}

	storage := a.Storage().(*array.FixedSizeList)
	n := typ.ElementSize()
	j := int64(storage.Data().Offset() + i)
	data := array.NewSliceData(storage.ListValues().Data(), j*n, (j+1)*n)
	defer data.Release()

	shape := typ.Shape()
	names := typ.DimNames()
	perm := typ.Permutation()

	outShape := make([]int64, len(shape))
	var outNames []string
	if names != nil {
		outNames = make([]string, len(names))
	}
	for k := range shape {
		src := k
		if perm != nil {
			src = int(perm[k])
		}
		outShape[k] = shape[src]
		if outNames != nil {
			outNames[k] = names[src]
		}
	}

	return tensor.New(data, outShape, nil, outNames), nil
}

// tensorSupported mirrors the type switch in tensor.New.
func tensorSupported(id arrow.Type) bool {
	switch id {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64, arrow.DATE32, arrow.DATE64:
		return true
	}
	return false
}

// NewFixedShapeTensorArray builds a fixed shape tensor array from a flat
// value buffer. The buffer's length must be a multiple of the type's
// element size and its type must match the type's value type. valid, when
// non-nil, supplies per-tensor validity and must have one entry per
// element.
func NewFixedShapeTensorArray(mem memory.Allocator, typ *FixedShapeTensorType, flatValues arrow.Array, valid []bool) (*FixedShapeTensorArray, error) {
	if !arrow.TypeEqual(flatValues.DataType(), typ.ValueType()) {
		return nil, fmt.Errorf("extensions: flat values have type %s, tensor value type is %s",
			flatValues.DataType(), typ.ValueType())
	}

	size := typ.ElementSize()
	if int64(flatValues.Len())%size != 0 {
		return nil, fmt.Errorf("extensions: flat value count %d is not a multiple of element size %d",
			flatValues.Len(), size)
	}
	length := flatValues.Len() / int(size)

	bitmap, nulls, err := validityBitmap(mem, valid, length)
	if err != nil {
		return nil, err
	}

	data := array.NewData(typ.StorageType(), length,
		[]*memory.Buffer{bitmap}, []arrow.ArrayData{flatValues.Data()}, nulls, 0)
	defer data.Release()
	if bitmap != nil {
		bitmap.Release()
	}

	storage := array.NewFixedSizeListData(data)
	defer storage.Release()

	return array.NewExtensionArrayWithStorage(typ, storage).(*FixedShapeTensorArray), nil
}

// NewFixedShapeTensorArrayFromStorage wraps an existing fixed-size-list
// array, checking that its type matches the extension type's storage.
func NewFixedShapeTensorArrayFromStorage(typ *FixedShapeTensorType, storage *array.FixedSizeList) (*FixedShapeTensorArray, error) {
	if !arrow.TypeEqual(storage.DataType(), typ.StorageType()) {
		return nil, fmt.Errorf("extensions: storage has type %s, expected %s",
			storage.DataType(), typ.StorageType())
	}
	return array.NewExtensionArrayWithStorage(typ, storage).(*FixedShapeTensorArray), nil
}

// validityBitmap packs valid into an allocated bitmap buffer, returning the
// null count. A nil valid yields a nil bitmap. The caller owns the returned
// buffer.
func validityBitmap(mem memory.Allocator, valid []bool, length int) (*memory.Buffer, int, error) {
	if valid == nil {
		return nil, 0, nil
	}
	if len(valid) != length {
		return nil, 0, fmt.Errorf("extensions: validity has %d entries, array has %d elements", len(valid), length)
	}

	buf := memory.NewResizableBuffer(mem)
	buf.Resize(int(bitutil.BytesForBits(int64(length))))
	nulls := 0
	for i, v := range valid {
		bitutil.SetBitTo(buf.Bytes(), i, v)
		if !v {
			nulls++
		}
	}
	return buf, nulls, nil
}

var (
	_ arrow.ExtensionType  = (*FixedShapeTensorType)(nil)
	_ array.ExtensionArray = (*FixedShapeTensorArray)(nil)
)
