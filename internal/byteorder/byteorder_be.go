//go:build s390x || ppc64 || mips || mips64

// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

package byteorder

import "encoding/binary"

// Native returns the native byte order for common big-endian Go ports.
func Native() binary.ByteOrder { return binary.BigEndian }
