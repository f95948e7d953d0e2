//go:build !windows

package pidfile

import "syscall"

// aliveSignal is signal 0: existence check without delivering anything
var aliveSignal = syscall.Signal(0)
