// Package main provides a placeholder entry point for armsys.
// armsys models the privileged state of ARM cores for a virtualizer.
//
// For the full CLI, use: go run ./cmd/armsys
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("armsys - ARM privileged core model")
	fmt.Println("")
	fmt.Println("Usage: armsys [options] <image>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config    Path to core configuration JSON file")
	fmt.Println("  -raw       Load a flat binary at this physical address")
	fmt.Println("  -cores     Override the number of cores")
	fmt.Println("  -trace     Log exceptions to stderr")
	fmt.Println("  -v         Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/armsys' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/armsys' instead.")
	}
}
