// Package ingress decodes cloud command payloads into desired-state changes.
package ingress

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightshowd/internal/state"
)

// DefaultMaxBrightness bounds b=<int> when no limit is configured.
const DefaultMaxBrightness = 255

var (
	// ErrUnknownCommand is returned for payloads no rule understands.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidBrightness is returned for a malformed or out-of-range b=<int>.
	ErrInvalidBrightness = errors.New("invalid brightness")
)

// Translator rewrites a payload the built-in grammar does not understand
// into a built-in command. ok is false when it has no opinion.
type Translator interface {
	Translate(topic, payload string) (command string, ok bool, err error)
}

// Parser decodes cloud payloads.
type Parser struct {
	maxBrightness int
	translator    Translator
}

// NewParser creates a parser. translator may be nil.
func NewParser(maxBrightness int, translator Translator) *Parser {
	if maxBrightness <= 0 {
		maxBrightness = DefaultMaxBrightness
	}
	return &Parser{
		maxBrightness: maxBrightness,
		translator:    translator,
	}
}

// Parse decodes a payload received on topic. Built-in commands are tried
// first; anything else is offered to the translator once.
func (p *Parser) Parse(topic string, payload []byte) (state.Change, error) {
	text := string(payload)

	change, err := ParseCommand(text, p.maxBrightness)
	if err == nil || !errors.Is(err, ErrUnknownCommand) || p.translator == nil {
		return change, err
	}

	translated, ok, terr := p.translator.Translate(topic, text)
	if terr != nil {
		return state.Change{}, fmt.Errorf("translate %q: %w", text, terr)
	}
	if !ok {
		return state.Change{}, err
	}

	log.Debug().Str("payload", text).Str("command", translated).Msg("Payload translated")
	return ParseCommand(translated, p.maxBrightness)
}

// ParseCommand decodes one of: reboot, on, off, b=<int>. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseCommand(s string, maxBrightness int) (state.Change, error) {
	cmd := strings.ToLower(strings.TrimSpace(s))

	switch cmd {
	case "reboot":
		return state.Change{Op: state.OpReboot}, nil
	case "on":
		return state.Change{Op: state.OpOn}, nil
	case "off":
		return state.Change{Op: state.OpOff}, nil
	}

	if rest, ok := strings.CutPrefix(cmd, "b="); ok {
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return state.Change{}, fmt.Errorf("%w: %q", ErrInvalidBrightness, rest)
		}
		if n < 0 || n > maxBrightness {
			return state.Change{}, fmt.Errorf("%w: %d outside 0..%d", ErrInvalidBrightness, n, maxBrightness)
		}
		return state.Change{Op: state.OpBrightness, Brightness: n}, nil
	}

	return state.Change{}, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// MessageHandler adapts the parser to an MQTT subscription. Decoded changes
// are passed to sink; rejected payloads are passed to reject if set.
func (p *Parser) MessageHandler(sink func(state.Change), reject func(payload string, err error)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		change, err := p.Parse(msg.Topic(), msg.Payload())
		if err != nil {
			log.Warn().
				Err(err).
				Str("topic", msg.Topic()).
				Str("payload", string(msg.Payload())).
				Msg("Rejected cloud command")
			if reject != nil {
				reject(string(msg.Payload()), err)
			}
			return
		}

		log.Debug().Str("topic", msg.Topic()).Str("change", change.String()).Msg("Cloud command received")
		sink(change)
	}
}
