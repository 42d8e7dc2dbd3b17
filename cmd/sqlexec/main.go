// Command sqlexec runs ad hoc statements through the executor stack: the
// session cache, the batch executor and generated key population.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
