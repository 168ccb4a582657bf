// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package byteorder provides native byte order selection.
//
// Implementation is architecture-specific via build tags where commonly
// known, and falls back to a portable runtime detection elsewhere.
package byteorder
