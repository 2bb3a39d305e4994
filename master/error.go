// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package master

import (
	"errors"
)

// error defined
var (
	ErrUseClosedConnection = errors.New("use of closed connection")
	ErrNotActive           = errors.New("session is not active")
	ErrAlreadyStarted      = errors.New("session already started")
	ErrConnect             = errors.New("connect failed")
)

// DNP3 master specific errors
var (
	ErrRequestTimeout  = errors.New("request timeout")
	ErrResetLinkFailed = errors.New("reset link failed")
	ErrWorkerStopped   = errors.New("worker stopped")
	ErrControlRejected = errors.New("control rejected by outstation")
	ErrRequestRejected = errors.New("request rejected by outstation")
	ErrNoTimeDelay     = errors.New("response without time delay object")
)
