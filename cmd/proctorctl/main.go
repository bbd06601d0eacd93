// Command proctorctl inspects feature extraction, model descriptors and
// scoring offline, without a running server or database.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
