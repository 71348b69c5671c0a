package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightshowd/internal/state"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    state.Change
		wantErr error
	}{
		{name: "on", input: "on", want: state.Change{Op: state.OpOn}},
		{name: "on_upper", input: "ON", want: state.Change{Op: state.OpOn}},
		{name: "off_mixed", input: "oFf", want: state.Change{Op: state.OpOff}},
		{name: "reboot", input: "Reboot", want: state.Change{Op: state.OpReboot}},
		{name: "whitespace", input: "  off\n", want: state.Change{Op: state.OpOff}},
		{name: "brightness", input: "b=5", want: state.Change{Op: state.OpBrightness, Brightness: 5}},
		{name: "brightness_upper", input: "B=12", want: state.Change{Op: state.OpBrightness, Brightness: 12}},
		{name: "brightness_zero", input: "b=0", want: state.Change{Op: state.OpBrightness, Brightness: 0}},
		{name: "brightness_max", input: "b=255", want: state.Change{Op: state.OpBrightness, Brightness: 255}},
		{name: "brightness_over", input: "b=256", wantErr: ErrInvalidBrightness},
		{name: "brightness_negative", input: "b=-1", wantErr: ErrInvalidBrightness},
		{name: "brightness_garbage", input: "b=bright", wantErr: ErrInvalidBrightness},
		{name: "brightness_empty", input: "b=", wantErr: ErrInvalidBrightness},
		{name: "unknown", input: "toggle", wantErr: ErrUnknownCommand},
		{name: "empty", input: "", wantErr: ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.input, DefaultMaxBrightness)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type stubTranslator struct {
	out   string
	ok    bool
	calls int
}

func (s *stubTranslator) Translate(_, _ string) (string, bool, error) {
	s.calls++
	return s.out, s.ok, nil
}

func TestParser_TranslatorOnlyForUnknown(t *testing.T) {
	tr := &stubTranslator{out: "b=3", ok: true}
	p := NewParser(10, tr)

	change, err := p.Parse("t", []byte("on"))
	require.NoError(t, err)
	assert.Equal(t, state.OpOn, change.Op)
	assert.Equal(t, 0, tr.calls)

	// Invalid brightness is not rescued by the translator.
	_, err = p.Parse("t", []byte("b=11"))
	assert.ErrorIs(t, err, ErrInvalidBrightness)
	assert.Equal(t, 0, tr.calls)

	change, err = p.Parse("t", []byte(`{"brightness":3}`))
	require.NoError(t, err)
	assert.Equal(t, state.Change{Op: state.OpBrightness, Brightness: 3}, change)
	assert.Equal(t, 1, tr.calls)
}

func TestParser_TranslatorNoOpinion(t *testing.T) {
	p := NewParser(0, &stubTranslator{ok: false})
	_, err := p.Parse("t", []byte("dance"))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestParser_TranslatorOutputIsValidated(t *testing.T) {
	p := NewParser(0, &stubTranslator{out: "explode", ok: true})
	_, err := p.Parse("t", []byte("dance"))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMessageHandler(t *testing.T) {
	p := NewParser(0, nil)

	var got []state.Change
	var rejected []string
	h := p.MessageHandler(
		func(c state.Change) { got = append(got, c) },
		func(payload string, _ error) { rejected = append(rejected, payload) },
	)

	h(nil, fakeMessage{topic: "home/lightshow", payload: []byte("on")})
	h(nil, fakeMessage{topic: "home/lightshow", payload: []byte("nope")})
	h(nil, fakeMessage{topic: "home/lightshow", payload: []byte("b=4")})

	assert.Equal(t, []state.Change{
		{Op: state.OpOn},
		{Op: state.OpBrightness, Brightness: 4},
	}, got)
	assert.Equal(t, []string{"nope"}, rejected)
}
