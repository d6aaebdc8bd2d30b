// ./main.go
package main

import (
	"github.com/shiftarc/shiftarc/cmd"
)

// main is the entry point for the shiftarc staffing engine CLI.
func main() {
	cmd.Execute()
}
