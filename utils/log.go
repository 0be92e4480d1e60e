package utils

import (
	"fmt"
	"io"
	"os"
)

// Verbose controls whether progress and statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where progress and statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// Logf writes a formatted line to Output when Verbose is set.
func Logf(format string, args ...interface{}) {
	if !Verbose {
		return
	}
	fmt.Fprintf(Output, format, args...)
}
