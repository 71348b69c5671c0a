package state

import "strconv"

// Op is a desired-state operation requested by the cloud.
type Op int

const (
	OpNone Op = iota
	OpOn
	OpOff
	OpBrightness
	OpReboot
)

// String returns a human-readable name for the operation.
func (o Op) String() string {
	switch o {
	case OpOn:
		return "on"
	case OpOff:
		return "off"
	case OpBrightness:
		return "brightness"
	case OpReboot:
		return "reboot"
	default:
		return "none"
	}
}

// Change is one decoded cloud command.
type Change struct {
	Op         Op
	Brightness int // only for OpBrightness
}

// String renders the change in its cloud command form.
func (c Change) String() string {
	if c.Op == OpBrightness {
		return "b=" + strconv.Itoa(c.Brightness)
	}
	return c.Op.String()
}
