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

// Package extensions implements the canonical arrow.fixed_shape_tensor and
// arrow.variable_shape_tensor extension types on top of the Arrow columnar
// format.
//
// A fixed shape tensor array stores one tensor per element over a
// fixed-size-list of values; every element shares the shape declared in the
// type's metadata. A variable shape tensor array stores one tensor per
// element over a struct of two children, "data" (a list of values) and
// "shape" (a fixed-size-list of int32), so each element carries its own
// shape.
//
// Both types serialize their metadata as a JSON object carried under the
// "ARROW:extension:metadata" key next to "ARROW:extension:name" in a
// field's key-value metadata. Call RegisterExtensionTypes to make the IPC
// machinery reconstruct typed arrays automatically, or use FromField to
// resolve a storage-typed field without touching the process-wide registry.
package extensions
