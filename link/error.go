// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"errors"
)

// framing errors, logged and never fatal
var (
	ErrCRCMismatch     = errors.New("crc mismatch")
	ErrInvalidLength   = errors.New("invalid frame length")
	ErrAddressMismatch = errors.New("address mismatch")
	ErrFrameTooLong    = errors.New("user data exceeds 250 octets")
)

// link service errors
var (
	ErrLinkTimeout   = errors.New("link confirm timeout")
	ErrNotSupported  = errors.New("link service not supported by remote")
	ErrClosed        = errors.New("link layer closed")
	ErrInvalidConfig = errors.New("invalid link config")
)
