package usbboot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionEmitsAttach(t *testing.T) {
	sink := &fakeSink{}
	sess := NewSession("1-1.2", FamilyCm3Like, sink)

	require.Len(t, sink.events, 1)
	assert.Equal(t, EventAttach, sink.events[0].Kind)
	assert.Equal(t, "1-1.2", sink.events[0].PortID)
	assert.Equal(t, 0, sess.Step())
}

func TestSessionSetStepIsMonotone(t *testing.T) {
	sink := &fakeSink{}
	sess := NewSession("1-1", FamilyCm4, sink)

	sess.SetStep(5)
	assert.Equal(t, 5, sess.Step())

	sess.SetStep(3) // backwards: ignored
	assert.Equal(t, 5, sess.Step())

	sess.SetStep(5) // same value: ignored, no extra progress event
	events := len(sink.events)

	sess.SetStep(6)
	assert.Equal(t, 6, sess.Step())
	assert.Greater(t, len(sink.events), events)
}

func TestSessionProgressTruncates(t *testing.T) {
	sess := NewSession("1-1", FamilyCm3Like, nil) // last_step = 40
	sess.SetStep(1)
	assert.Equal(t, 2, sess.Progress()) // floor(1/40*100) = floor(2.5) = 2, per §8

	sess.SetStep(40)
	assert.Equal(t, 100, sess.Progress())
}

func TestSessionSetStepClampsToLastStep(t *testing.T) {
	sess := NewSession("1-1", FamilyCm4, nil)
	terminal := sess.SetStep(999)
	assert.True(t, terminal)
	assert.Equal(t, 10, sess.Step())
}

func TestSessionAdvanceIncrementsByOne(t *testing.T) {
	sess := NewSession("1-1", FamilyCm4, nil)
	sess.SetStep(2)
	sess.Advance()
	assert.Equal(t, 3, sess.Step())
}

func TestSessionCloseEmitsDetachExactlyOnce(t *testing.T) {
	sink := &fakeSink{}
	sess := NewSession("1-1", FamilyCm3Like, sink)
	sess.close(nil)

	detaches := 0
	for _, e := range sink.events {
		if e.Kind == EventDetach {
			detaches++
		}
	}
	assert.Equal(t, 1, detaches)
}
