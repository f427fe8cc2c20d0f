//go:build !unix

package main

import "os"

// pauseSignal is unavailable on this platform.
var pauseSignal os.Signal
