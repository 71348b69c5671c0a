// Package state holds the desired and confirmed device state records.
// Desired state is versioned so the reconciler can tell when it changed.
package state

import "fmt"

// DeviceState is what the driver board is (or should be) doing.
type DeviceState struct {
	Running    bool `json:"running"`
	Brightness int  `json:"brightness"`
}

// String renders the state for logs and telemetry.
func (s DeviceState) String() string {
	power := "off"
	if s.Running {
		power = "on"
	}
	return fmt.Sprintf("%s/b%d", power, s.Brightness)
}

// Divergence lists the fields where desired and confirmed differ.
type Divergence struct {
	Brightness bool
	Running    bool
}

// Diff compares desired against confirmed.
func Diff(desired, confirmed DeviceState) Divergence {
	return Divergence{
		Brightness: desired.Brightness != confirmed.Brightness,
		Running:    desired.Running != confirmed.Running,
	}
}

// Empty reports whether nothing diverges.
func (d Divergence) Empty() bool {
	return !d.Brightness && !d.Running
}

// Count returns the number of divergent fields.
func (d Divergence) Count() int {
	n := 0
	if d.Brightness {
		n++
	}
	if d.Running {
		n++
	}
	return n
}

// Desired is the operator-requested state plus the brightness applied by
// the next "on". Version increments on every mutation.
type Desired struct {
	DeviceState
	DefaultBrightness int
	Version           int64
}

// Apply mutates desired state according to change. Reboot and unknown
// operations are ignored and reported as not applied.
func (d *Desired) Apply(change Change) bool {
	switch change.Op {
	case OpOn:
		d.Running = true
		d.Brightness = d.DefaultBrightness
	case OpOff:
		d.Running = false
	case OpBrightness:
		d.DefaultBrightness = change.Brightness
		d.Brightness = change.Brightness
	default:
		return false
	}
	d.Version++
	return true
}
