//go:build windows

package pidfile

import "os"

// Windows has no signal 0; Interrupt probing is refused by the runtime,
// so liveness checks fail toward "not running".
var aliveSignal = os.Interrupt
