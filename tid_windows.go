// SPDX-License-Identifier: Apache-2.0

//go:build windows

package secondstack

import "golang.org/x/sys/windows"

func threadID() (int, bool) {
	return int(windows.GetCurrentThreadId()), true
}
