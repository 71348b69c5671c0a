// Package protocol defines the line-oriented wire protocol spoken with the
// light show driver board.
package protocol

import (
	"strconv"
	"strings"
)

// Wire tokens. Every command and reply is a single line terminated by '\n'.
const (
	TokenReady  = "READY"
	TokenStart  = "START"
	TokenStop   = "STOP"
	TokenStatus = "STATUS"
	TokenOn     = "ON"
	TokenOff    = "OFF"

	brightnessPrefix = "B"
)

// Kind identifies a command type.
type Kind int

const (
	KindHandshake Kind = iota
	KindStart
	KindStop
	KindSetBrightness
	KindStatus
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindSetBrightness:
		return "set_brightness"
	case KindStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Command is a tagged command value. Brightness is only meaningful
// for KindSetBrightness.
type Command struct {
	Kind       Kind
	Brightness int
}

// Handshake returns the READY probe.
func Handshake() Command { return Command{Kind: KindHandshake} }

// Start returns the run request.
func Start() Command { return Command{Kind: KindStart} }

// Stop returns the stop request.
func Stop() Command { return Command{Kind: KindStop} }

// Status returns the run-state query.
func Status() Command { return Command{Kind: KindStatus} }

// SetBrightness returns a brightness command carrying level.
func SetBrightness(level int) Command {
	return Command{Kind: KindSetBrightness, Brightness: level}
}

// Token returns the wire token for the command, without the line terminator.
// The second return is false for a kind the protocol does not know.
func (c Command) Token() (string, bool) {
	switch c.Kind {
	case KindHandshake:
		return TokenReady, true
	case KindStart:
		return TokenStart, true
	case KindStop:
		return TokenStop, true
	case KindStatus:
		return TokenStatus, true
	case KindSetBrightness:
		return brightnessPrefix + strconv.Itoa(c.Brightness), true
	default:
		return "", false
	}
}

// String renders the command for logs.
func (c Command) String() string {
	if tok, ok := c.Token(); ok {
		return tok
	}
	return c.Kind.String()
}

// ParseStatus interprets a STATUS reply. ok is false for anything other
// than ON or OFF.
func ParseStatus(line string) (running bool, ok bool) {
	switch line {
	case TokenOn:
		return true, true
	case TokenOff:
		return false, true
	default:
		return false, false
	}
}

// ParseBrightness extracts the level from a B<int> token.
func ParseBrightness(token string) (int, bool) {
	rest, found := strings.CutPrefix(token, brightnessPrefix)
	if !found || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}
