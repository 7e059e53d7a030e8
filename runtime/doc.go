// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package runtime is the public API of memrt: typed multi-dimensional
// buffers (memrefs) on host and accelerator memory, exchanged zero-copy
// with foreign array libraries through DLPack capsules.
//
// A Client enumerates memory spaces once. Memrefs are either Owned
// (allocated by the client) or Views (wrapping memory owned elsewhere).
// Both are reference counted: the memory stays valid while any memref,
// clone, exported capsule or imported view still refers to it.
//
// Example:
//
//	client, _ := runtime.NewClient(runtime.DefaultConfig())
//	defer client.Close()
//
//	m, _ := client.CreateMemRefFromBuffer(runtime.BufferOf([]float32{5, 4, 2}))
//	fmt.Println(m) // MemRefValue shape=[3] dtype=ScalarTypeCode.f32 strides=[1]
//
//	capsule, _ := client.ToDLPack(m)
//	_ = m.Release() // the capsule keeps the storage alive
//
//	mt, _ := capsule.Consume()
//	data, _ := mt.HostBytes()
//	_ = data
//	_ = mt.Delete()
package runtime
