// SPDX-License-Identifier: Apache-2.0

//go:build linux

package secondstack

import "golang.org/x/sys/unix"

func threadID() (int, bool) {
	return unix.Gettid(), true
}
