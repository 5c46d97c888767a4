// SPDX-License-Identifier: Apache-2.0

// Package secondstack implements a second stack: a LIFO allocator for
// short-lived values that are too large or too dynamically sized for the
// goroutine stack, and too short-lived to be worth a heap allocation.
//
// Memory is handed out to callbacks:
//
//	sum, err := secondstack.UninitSlice(nil, n, func(buf []byte) int {
//		// buf is valid until the callback returns
//		...
//	})
//
// A nil *Stack selects the calling OS thread's shared Stack, so unrelated
// libraries reuse the same grown capacity. New returns an isolated Stack.
//
// Frames never move once handed out. A Stack grows by appending segments
// and never relocates existing ones, so callbacks can reenter the Stack to
// any depth without invalidating the memory of outer callbacks.
//
// Only types with an alignment of 1 are supported (byte, bool, int8, and
// arrays and structs made of them). Such types cannot contain pointers,
// which is what allows segments to live in plain byte memory or outside the
// Go heap entirely. Other types fail with ErrUnsupportedLayout.
package secondstack
