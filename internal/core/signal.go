package core

// Signal is a process-control outcome. It travels up through event handling
// as a plain return value; SignalNone means the session keeps running.
type Signal int

const (
	SignalNone Signal = iota
	SignalShutdown
	SignalRestart
)

// Error lets handlers return a Signal through their error result.
func (s Signal) Error() string {
	switch s {
	case SignalShutdown:
		return "shutdown requested"
	case SignalRestart:
		return "restart requested"
	default:
		return "no signal"
	}
}

func (s Signal) String() string {
	switch s {
	case SignalShutdown:
		return "shutdown"
	case SignalRestart:
		return "restart"
	default:
		return "none"
	}
}

// Terminal reports whether the session must stop.
func (s Signal) Terminal() bool { return s != SignalNone }
