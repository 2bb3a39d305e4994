// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package app

import (
	"errors"
)

// error defined
var (
	ErrInvalidFrame    = errors.New("invalid application frame")
	ErrConfirmTimeout  = errors.New("application confirm timeout")
	ErrClosed          = errors.New("application layer closed")
	ErrInvalidFunction = errors.New("invalid function for request")
	ErrInvalidValue    = errors.New("invalid object value")
)
