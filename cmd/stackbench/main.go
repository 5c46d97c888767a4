// SPDX-License-Identifier: Apache-2.0

// Command stackbench runs soak tests and benchmarks against secondstack.
package main

func main() {
	execute()
}
