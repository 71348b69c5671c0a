package linkframe

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(f *Framer, s string) (lines []string, errs []error) {
	for i := 0; i < len(s); i++ {
		line, complete, err := f.Feed(s[i])
		if err != nil {
			errs = append(errs, err)
		}
		if complete {
			lines = append(lines, line)
		}
	}
	return lines, errs
}

func TestFramer_Lines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "single", input: "READY\n", want: []string{"READY"}},
		{name: "two_lines", input: "START\nB7\n", want: []string{"START", "B7"}},
		{name: "crlf", input: "ON\r\n", want: []string{"ON"}},
		{name: "empty_line", input: "\n", want: []string{""}},
		{name: "no_terminator", input: "STOP", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(DefaultCapacity)
			lines, errs := feedAll(f, tt.input)
			assert.Empty(t, errs)
			assert.Equal(t, tt.want, lines)
		})
	}
}

func TestFramer_ExactCapacityFits(t *testing.T) {
	f := NewFramer(64)
	line := strings.Repeat("x", 64)

	lines, errs := feedAll(f, line+"\n")
	assert.Empty(t, errs)
	require.Len(t, lines, 1)
	assert.Equal(t, line, lines[0])
}

func TestFramer_Overflow(t *testing.T) {
	f := NewFramer(64)

	lines, errs := feedAll(f, strings.Repeat("x", 65))
	assert.Empty(t, lines)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrOverflow)
	assert.Equal(t, 0, f.Len(), "buffer must be cleared on overflow")

	// The overflowed line's terminator yields nothing; framing resumes after it.
	lines, errs = feedAll(f, "\nREADY\n")
	assert.Empty(t, errs)
	assert.Equal(t, []string{"READY"}, lines)
}

func TestFramer_OverflowTailDiscarded(t *testing.T) {
	f := NewFramer(64)

	lines, errs := feedAll(f, strings.Repeat("x", 100)+"\nSTART\n")
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrOverflow)
	assert.Equal(t, []string{"START"}, lines)
}

func TestFramer_ResetClearsDiscard(t *testing.T) {
	f := NewFramer(4)

	_, errs := feedAll(f, "xxxxx")
	require.Len(t, errs, 1)
	f.Reset()

	lines, errs := feedAll(f, "ON\n")
	assert.Empty(t, errs)
	assert.Equal(t, []string{"ON"}, lines)
}

func TestFramer_NeverExceedsCapacity(t *testing.T) {
	f := NewFramer(8)
	for i := 0; i < 100; i++ {
		_, _, _ = f.Feed('a')
		assert.LessOrEqual(t, f.Len(), f.Capacity())
	}
}

func TestFramer_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewFramer(0).Capacity())
}

func TestReader_Next(t *testing.T) {
	r := NewReader(bytes.NewBufferString("READY\nON\nB5\n"), 64, 0)

	for _, want := range []string{"READY", "ON", "B5"} {
		line, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}

	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_OverflowIsRecoverable(t *testing.T) {
	input := strings.Repeat("z", 70) + "\nSTART\n"
	r := NewReader(strings.NewReader(input), 64, 0)

	_, err := r.Next()
	require.ErrorIs(t, err, ErrOverflow)

	// The tail of the overflowed line is dropped; the next line is START.
	line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "START", line)
}

func TestReader_OneByteOverCapacityYieldsNoLine(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("x", 65)+"\nREADY\n"), 64, 0)

	_, err := r.Next()
	require.ErrorIs(t, err, ErrOverflow)

	line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "READY", line)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// scriptedReader returns one scripted chunk per Read call.
type scriptedReader struct {
	chunks []string
	err    error
}

func (s *scriptedReader) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return copy(p, c), nil
}

func TestReader_IdleCallback(t *testing.T) {
	src := &scriptedReader{
		chunks: []string{"", "", "ST", "", "OP\n"},
		err:    io.EOF,
	}
	r := NewReader(src, 64, time.Second)

	clock := time.Unix(1000, 0)
	r.now = func() time.Time {
		clock = clock.Add(600 * time.Millisecond)
		return clock
	}
	r.lastByte = clock

	idle := 0
	r.OnIdle = func() { idle++ }

	line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "STOP", line)
	// Two empty reads cross the 1s window once; after "ST" the timer restarts
	// and one more empty read stays inside it.
	assert.Equal(t, 1, idle)
}

func TestReader_DeferredError(t *testing.T) {
	boom := errors.New("port closed")
	r := NewReader(io.MultiReader(strings.NewReader("OFF\n"), &scriptedReader{err: boom}), 64, 0)

	line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "OFF", line)

	_, err = r.Next()
	assert.ErrorIs(t, err, boom)
}
