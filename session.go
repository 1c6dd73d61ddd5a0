/* go-raspberrypi-usbboot
 *
 * Session: per-port-id state tracking one physical device across its
 * USB re-enumerations during transformation (§3, §4.6).
 */

package usbboot

import (
	"sync"
)

// Session tracks one device's progress through the boot protocol, keyed
// by its stable port id. A Session is created on first classification
// of a bootable device at a port and destroyed when its step reaches
// LastStep or a detach timer fires without further progress.
type Session struct {
	mu sync.Mutex

	portID   string
	family   DeviceFamily
	step     int
	lastStep int
	sink     EventSink
}

// NewSession creates a Session for portID and family, and emits the
// EventAttach for it. step starts at 0.
func NewSession(portID string, family DeviceFamily, sink EventSink) *Session {
	s := &Session{
		portID:   portID,
		family:   family,
		lastStep: family.LastStep(),
		sink:     sink,
	}

	if sink != nil {
		sink.Emit(Event{Kind: EventAttach, PortID: portID, Family: family})
	}

	return s
}

// Step returns the session's current step.
func (s *Session) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Family returns the session's device family.
func (s *Session) Family() DeviceFamily {
	return s.family
}

// PortID returns the session's port id.
func (s *Session) PortID() string {
	return s.portID
}

// Progress returns floor(step / last_step * 100), per §8's worked
// example (step=1, last_step=40 -> 2, not the round-half-up 3).
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return progressOf(s.step, s.lastStep)
}

func progressOf(step, lastStep int) int {
	if lastStep <= 0 {
		return 0
	}
	return step * 100 / lastStep
}

// SetStep advances the session's step to n and emits EventProgress,
// provided n is strictly greater than the current step (§9's
// monotonicity guard, needed because detach and attach handlers can
// race to assign the same step). Same-or-lower values are ignored. It
// returns true if the session has reached its terminal step.
func (s *Session) SetStep(n int) bool {
	s.mu.Lock()
	if n <= s.step {
		s.mu.Unlock()
		return false
	}
	if n > s.lastStep {
		n = s.lastStep
	}
	s.step = n
	terminal := s.step == s.lastStep
	progress := progressOf(s.step, s.lastStep)
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Emit(Event{Kind: EventProgress, PortID: s.portID, Family: s.family, Progress: progress})
	}

	return terminal
}

// Advance increments the step by one, the shape file_server's
// onStep callback uses (§4.5).
func (s *Session) Advance() bool {
	return s.SetStep(s.Step() + 1)
}

// close emits the session's one EventDetach. err is nil for a clean,
// successful terminal detach.
func (s *Session) close(err error) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(Event{
		Kind:     EventDetach,
		PortID:   s.portID,
		Family:   s.family,
		Progress: s.Progress(),
		Err:      err,
	})
}
