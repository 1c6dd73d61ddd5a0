/* go-raspberrypi-usbboot
 *
 * Scanner: subscribes to USB enumeration, classifies devices, owns
 * per-port session state, and drives the boot protocol (§4.6).
 * gousb's public API has no attach/detach callback of its own, so
 * hotplug.go registers directly against libusb's hotplug API and
 * wakes Scanner's loop on every arrival/departure; the loop then
 * reconciles by re-enumerating and diffing successive snapshots, the
 * same technique as the teacher's pnp.go. There is deliberately no
 * fixed-interval timer driving this -- §9 calls that out as dead
 * weight carried by the original source, and here the real signal
 * (libusb hotplug) does the waking instead.
 */

package usbboot

import (
	"sync"
	"time"
)

// trackedDevice is what the scanner remembers about a device between
// reconciliations, so a detach -- which can no longer read the
// device -- still has the classification and iSerialNumber needed to
// advance its session (§4.6).
type trackedDevice struct {
	deviceID string
	portID   string
	class    Classification
	serial   int
}

// Scanner is the session tracker of §4.6. Construct with NewScanner,
// then call Start.
type Scanner struct {
	enum  DeviceEnumerator
	blobs BlobProvider
	cfg   Config
	log   *Logger
	sink  EventSink

	mu       sync.Mutex
	sessions map[string]*Session      // port id -> session
	seenIDs  map[string]bool          // device id -> present
	tracked  map[string]*trackedDevice // device id -> last known shape
	timers   map[string]*time.Timer    // port id -> pending detach-grace timer

	stopCh chan struct{}
	// pollWG tracks only the background poll-loop goroutine, so it
	// can be waited on independently of in-flight protocol runs.
	pollWG sync.WaitGroup
	// wg tracks in-flight per-device protocol runs (runProtocol).
	wg sync.WaitGroup

	// hotplugRegister/hotplugDeregister/hotplugCh default to the real
	// libusb-backed hotplug subscription; tests substitute fakes so
	// Start/Stop don't need a live libusb context.
	hotplugRegister   func() error
	hotplugDeregister func()
	hotplugCh         <-chan struct{}
}

// NewScanner constructs a Scanner. sink may be nil to discard events.
func NewScanner(enum DeviceEnumerator, blobs BlobProvider, cfg Config, log *Logger, sink EventSink) *Scanner {
	if log == nil {
		log = NewLogger(nil)
	}
	return &Scanner{
		enum:              enum,
		blobs:             blobs,
		cfg:               cfg,
		log:               log,
		sink:              sink,
		sessions:          make(map[string]*Session),
		seenIDs:           make(map[string]bool),
		tracked:           make(map[string]*trackedDevice),
		timers:            make(map[string]*time.Timer),
		hotplugRegister:   registerHotplug,
		hotplugDeregister: deregisterHotplug,
		hotplugCh:         hotplugSignal,
	}
}

// Start performs the initial classification sweep, emits ready,
// registers for libusb hotplug notifications, and begins the
// diff-on-wake loop that turns those notifications into attach/detach
// events (§4.6). Start must not be called more than once per process
// (see registerHotplug).
func (sc *Scanner) Start() error {
	devs, err := sc.enum.ListDevices()
	if err != nil {
		return err
	}

	for _, dev := range devs {
		sc.handleAttach(dev)
	}

	if sc.sink != nil {
		sc.sink.Emit(Event{Kind: EventReady})
	}

	if err := sc.hotplugRegister(); err != nil {
		return err
	}

	sc.stopCh = make(chan struct{})
	sc.pollWG.Add(1)
	go sc.pollLoop()

	return nil
}

// Stop deregisters the hotplug subscription, cancels all pending
// timers, and clears the session table. No detach events are emitted:
// callers must treat Stop as a hard quiesce (§4.6). It does not wait
// for any in-flight protocol run to finish (§5's cancellation model
// lets those complete, or error, against the by-then-unreferenced
// session).
func (sc *Scanner) Stop() {
	if sc.stopCh != nil {
		sc.hotplugDeregister()
		close(sc.stopCh)
		sc.pollWG.Wait()
	}

	sc.mu.Lock()
	for _, t := range sc.timers {
		t.Stop()
	}
	sc.sessions = make(map[string]*Session)
	sc.seenIDs = make(map[string]bool)
	sc.tracked = make(map[string]*trackedDevice)
	sc.timers = make(map[string]*time.Timer)
	sc.mu.Unlock()
}

// pollLoop waits on hotplugSignal and reconciles on every wake. It is
// not a timer: absent any USB activity it blocks indefinitely.
func (sc *Scanner) pollLoop() {
	defer sc.pollWG.Done()

	for {
		select {
		case <-sc.stopCh:
			return
		case <-sc.hotplugCh:
			sc.poll()
		}
	}
}

func (sc *Scanner) poll() {
	devs, err := sc.enum.ListDevices()
	if err != nil {
		if sc.sink != nil {
			sc.sink.Emit(Event{Kind: EventError, Err: err})
		}
		return
	}

	current := make(map[string]bool, len(devs))
	for _, dev := range devs {
		desc := dev.Descriptor()
		current[DeviceID(desc.Bus, desc.Address)] = true
	}

	sc.mu.Lock()
	var goneIDs []string
	for id := range sc.seenIDs {
		if !current[id] {
			goneIDs = append(goneIDs, id)
		}
	}
	sc.mu.Unlock()

	for _, dev := range devs {
		sc.handleAttach(dev)
	}

	for _, id := range goneIDs {
		sc.handleDetachByID(id)
	}
}

// handleAttach implements the attach-handling algorithm of §4.6.
func (sc *Scanner) handleAttach(dev usbDevice) {
	desc := dev.Descriptor()
	devID := DeviceID(desc.Bus, desc.Address)
	portID := PortID(desc.Bus, desc.PortNumbers)
	class := Classify(desc.Vendor, desc.Product)

	sc.mu.Lock()
	if sc.seenIDs[devID] {
		sc.mu.Unlock()
		dev.Close()
		return
	}
	sc.seenIDs[devID] = true
	sc.mu.Unlock()

	if class.Kind == MassStorageOfInterest {
		sc.mu.Lock()
		sess, ok := sc.sessions[portID]
		sc.mu.Unlock()
		if ok {
			sc.advanceToTerminal(sess)
		}
		dev.Close()
		return
	}

	if class.Kind != BootCapable {
		dev.Close()
		return
	}

	serial, err := dev.SerialDescriptorIndex()
	if err != nil {
		if sc.sink != nil {
			sc.sink.Emit(Event{Kind: EventError, Err: err})
		}
		dev.Close()
		return
	}

	sc.mu.Lock()
	sc.tracked[devID] = &trackedDevice{deviceID: devID, portID: portID, class: class, serial: serial}
	sess, existed := sc.sessions[portID]
	if !existed {
		sess = NewSession(portID, class.Family, sc.sink)
		sc.sessions[portID] = sess
	}
	sc.mu.Unlock()

	sc.wg.Add(1)
	go sc.runProtocol(dev, sess, serial)
}

// runProtocol dispatches by iSerialNumber (§4.5) and runs the
// corresponding phase to completion, removing the session on any
// error the phase raises (§4.6, §7).
func (sc *Scanner) runProtocol(dev usbDevice, sess *Session, serial int) {
	defer sc.wg.Done()
	defer dev.Close()

	t, err := OpenTransport(dev, sc.cfg, sc.log)
	if err != nil {
		sc.failSession(sess, err)
		return
	}
	defer t.Close()

	if serial == 0 || serial == 3 {
		sess.SetStep(0)
		if err := UploadBootcode(t, sc.blobs, sess.Family(), sc.log); err != nil {
			sc.failSession(sess, err)
		}
		return
	}

	if err := FileServer(t, sc.blobs, sess.Family(), sc.cfg, sc.log, func() { sess.Advance() }); err != nil {
		sc.failSession(sess, err)
	}
}

// failSession removes a session after a fatal protocol error,
// emitting its one EventDetach (§7's propagation policy).
func (sc *Scanner) failSession(sess *Session, err error) {
	sc.mu.Lock()
	if sc.sessions[sess.PortID()] != sess {
		sc.mu.Unlock()
		return
	}
	delete(sc.sessions, sess.PortID())
	sc.cancelTimerLocked(sess.PortID())
	sc.mu.Unlock()

	sess.close(err)
}

// cancelTimerLocked stops and forgets the pending detach-grace timer
// for portID, if any. Callers must hold sc.mu.
func (sc *Scanner) cancelTimerLocked(portID string) {
	if t, ok := sc.timers[portID]; ok {
		t.Stop()
		delete(sc.timers, portID)
	}
}

// advanceToTerminal implements the MassStorageOfInterest branch of
// the attach algorithm: the device has re-enumerated as mass storage,
// so its session is complete.
func (sc *Scanner) advanceToTerminal(sess *Session) {
	terminal := sess.SetStep(sess.Family().LastStep())
	if !terminal {
		return
	}

	sc.mu.Lock()
	if sc.sessions[sess.PortID()] == sess {
		delete(sc.sessions, sess.PortID())
	}
	sc.cancelTimerLocked(sess.PortID())
	sc.mu.Unlock()

	sess.close(nil)
}

// handleDetachByID implements the detach-handling algorithm of §4.6
// for the device last known by devID.
func (sc *Scanner) handleDetachByID(devID string) {
	sc.mu.Lock()
	delete(sc.seenIDs, devID)
	tracked, ok := sc.tracked[devID]
	if ok {
		delete(sc.tracked, devID)
	}
	sc.mu.Unlock()

	if !ok || tracked.class.Kind != BootCapable {
		return
	}

	sc.mu.Lock()
	sess, existed := sc.sessions[tracked.portID]
	if !existed {
		sess = NewSession(tracked.portID, tracked.class.Family, sc.sink)
		sc.sessions[tracked.portID] = sess
	}
	sc.mu.Unlock()

	var target int
	if tracked.serial == 0 {
		target = 1
	} else {
		target = sess.Family().LastStep() - 1
	}

	sess.SetStep(target)
	sc.armDetachTimer(sess, target)
}

// armDetachTimer starts the 5 s (Config.DetachGrace) physical-unplug
// timer: if the session's step hasn't advanced past target by the
// time it fires, the device is assumed gone for good (§4.6).
func (sc *Scanner) armDetachTimer(sess *Session, target int) {
	sc.mu.Lock()
	sc.cancelTimerLocked(sess.PortID())
	timer := time.AfterFunc(sc.cfg.DetachGrace, func() {
		sc.onDetachTimerFired(sess, target)
	})
	sc.timers[sess.PortID()] = timer
	sc.mu.Unlock()
}

func (sc *Scanner) onDetachTimerFired(sess *Session, target int) {
	sc.mu.Lock()
	delete(sc.timers, sess.PortID())
	current, exists := sc.sessions[sess.PortID()]
	stillTarget := exists && current == sess && sess.Step() == target
	if stillTarget {
		delete(sc.sessions, sess.PortID())
	}
	sc.mu.Unlock()

	if stillTarget {
		sess.close(nil)
	}
}

// SessionStatus is one session's snapshot, as returned by Stats. It is
// a point-in-time copy: mutating it has no effect on the Scanner.
type SessionStatus struct {
	PortID   string
	Family   DeviceFamily
	Step     int
	Progress int
}

// SessionCount returns the number of sessions currently tracked.
func (sc *Scanner) SessionCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.sessions)
}

// Stats returns a snapshot of every session currently tracked, the
// aggregate view the teacher's status.go exposed over its control
// socket -- here as a plain Go value, since this module has no
// control-socket surface of its own (§1 scopes the CLI/daemon shell
// out).
func (sc *Scanner) Stats() []SessionStatus {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]SessionStatus, 0, len(sc.sessions))
	for _, sess := range sc.sessions {
		out = append(out, SessionStatus{
			PortID:   sess.PortID(),
			Family:   sess.Family(),
			Step:     sess.Step(),
			Progress: sess.Progress(),
		})
	}
	return out
}
