// Copyright (c) 2019-2020, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package session

import (
	"github.com/danos/mgmterror"
)

func connReset() error {
	err := mgmterror.NewOperationFailedProtocolError()
	err.Message = "connection-reset"
	return err
}

func brokenPipe() error {
	err := mgmterror.NewOperationFailedProtocolError()
	err.Message = "broken-pipe"
	return err
}
