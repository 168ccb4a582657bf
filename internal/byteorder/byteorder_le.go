//go:build amd64 || arm64 || 386 || riscv64 || ppc64le || mips64le || mipsle || loong64 || wasm || arm

// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package byteorder

import "encoding/binary"

// Native returns the native byte order for common little-endian Go ports.
func Native() binary.ByteOrder { return binary.LittleEndian }
