//go:build unix

package main

import (
	"os"
	"syscall"
)

// pauseSignal toggles pausing of the engine.
var pauseSignal os.Signal = syscall.SIGUSR1
