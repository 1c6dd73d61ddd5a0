package usbboot

import (
	"errors"
	"sync"
)

// fakeControlResponse is one queued reply to an IN control transfer.
type fakeControlResponse struct {
	data []byte
	err  error
}

// fakeDevice is a usbDevice double driven entirely by queued
// responses, so transport/protocol/scanner tests can exercise stall
// retry, transient errors, and device-gone conditions without real
// hardware.
type fakeDevice struct {
	desc DeviceDescriptor

	serial    int
	serialErr error

	inQueue []fakeControlResponse
	outErr  error // returned by every OUT control call, if set

	controlCalls []fakeControlCall

	bulk        *fakeBulkOut
	openBulkErr error

	reopenErr   error
	reopenCalls int

	closed bool
}

type fakeControlCall struct {
	rType, request uint8
	val, idx       uint16
	length         int
}

func (d *fakeDevice) Descriptor() DeviceDescriptor { return d.desc }

func (d *fakeDevice) SerialDescriptorIndex() (int, error) {
	return d.serial, d.serialErr
}

func (d *fakeDevice) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	d.controlCalls = append(d.controlCalls, fakeControlCall{rType, request, val, idx, len(data)})

	if rType == ctrlReqTypeIn {
		if len(d.inQueue) == 0 {
			return 0, errors.New("fakeDevice: no queued IN response")
		}
		resp := d.inQueue[0]
		d.inQueue = d.inQueue[1:]
		if resp.err != nil {
			return 0, resp.err
		}
		n := copy(data, resp.data)
		return n, nil
	}

	if d.outErr != nil {
		return 0, d.outErr
	}
	return len(data), nil
}

func (d *fakeDevice) OpenBulkOut(ifNum, epNum int) (usbBulkOut, error) {
	if d.openBulkErr != nil {
		return nil, d.openBulkErr
	}
	if d.bulk == nil {
		d.bulk = &fakeBulkOut{}
	}
	return d.bulk, nil
}

func (d *fakeDevice) Reopen() error {
	d.reopenCalls++
	return d.reopenErr
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

// fakeBulkOut is a usbBulkOut double that can simulate a fixed number
// of stalls before succeeding, or a persistent non-stall error.
type fakeBulkOut struct {
	writes     [][]byte
	stallCount int
	err        error
	closed     bool
}

func (b *fakeBulkOut) Write(p []byte) (int, error) {
	if b.stallCount > 0 {
		b.stallCount--
		return 0, ErrStall
	}
	if b.err != nil {
		return 0, b.err
	}
	cp := append([]byte(nil), p...)
	b.writes = append(b.writes, cp)
	return len(p), nil
}

func (b *fakeBulkOut) Close() error {
	b.closed = true
	return nil
}

// allWritten concatenates every chunk written, in order.
func (b *fakeBulkOut) allWritten() []byte {
	var out []byte
	for _, w := range b.writes {
		out = append(out, w...)
	}
	return out
}

// fakeEnumerator is a DeviceEnumerator double returning a fixed,
// replaceable device list on every call. mu guards devices/err so a
// test can append a device concurrently with the scanner's poll loop.
type fakeEnumerator struct {
	mu      sync.Mutex
	devices []usbDevice
	err     error
}

func (e *fakeEnumerator) ListDevices() ([]usbDevice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return append([]usbDevice(nil), e.devices...), nil
}

// fakeSink is an EventSink double recording every event in order.
type fakeSink struct {
	events []Event
}

func (s *fakeSink) Emit(e Event) {
	s.events = append(s.events, e)
}
