// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !windows

package secondstack

// threadID is unavailable; shared calls check Stacks out of a Pool instead.
func threadID() (int, bool) {
	return 0, false
}
