/* go-raspberrypi-usbboot
 *
 * USB device abstraction. Wraps gousb's public API (control/bulk
 * transfers, enumeration) behind a small interface so the transport
 * and scanner can be unit tested against a fake device, without real
 * hardware. hotplug.go is the one file in this package that reaches
 * past gousb into cgo, for the hotplug subscription gousb doesn't
 * expose.
 */

package usbboot

import (
	"fmt"

	"github.com/google/gousb"
)

// Control transfer request-type bytes, bit-exact per §6: vendor
// request, OUT or IN direction, device recipient.
const (
	ctrlReqTypeOut = 0x40
	ctrlReqTypeIn  = 0xC0

	// reqGetStatus is GET_STATUS's request code, re-used by the ROM
	// as the size-prefix control request (§4.4).
	reqGetStatus = 0

	// stdReqGetDesc is the standard GET_DESCRIPTOR request, used
	// only to read the raw iSerialNumber descriptor index (§4.5)
	// that gousb's high-level SerialNumber() doesn't expose (it
	// returns the decoded string, not the index).
	stdReqTypeIn      = 0x80
	stdReqGetDesc     = 6
	descTypeDevice    = 1
	deviceDescLen     = 18
	iSerialNumberByte = 16
)

// DeviceDescriptor is the subset of USB device identity this module
// needs: enough to classify the device (§4.1), key its session by
// port (§3), and select the boot protocol phase (§4.5).
type DeviceDescriptor struct {
	Bus          int
	Address      int
	PortNumbers  []int
	Vendor       uint16
	Product      uint16
	NumInterface int // interface count of the active configuration
}

// usbDevice abstracts the subset of *gousb.Device used by Transport
// and Scanner.
type usbDevice interface {
	Descriptor() DeviceDescriptor
	// SerialDescriptorIndex returns the raw iSerialNumber field of
	// the device descriptor (an index, not the resolved string).
	SerialDescriptorIndex() (int, error)
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
	// OpenBulkOut claims ifNum and returns its epNum OUT endpoint.
	OpenBulkOut(ifNum, epNum int) (usbBulkOut, error)
	// Reopen is the post-file-server "nudge" of §4.5 step 5: some
	// hosts need a fresh open() to release a stale handle before
	// the device re-enumerates as mass storage. Its error is always
	// ignored by callers.
	Reopen() error
	Close() error
}

// usbBulkOut is a claimed bulk OUT endpoint.
type usbBulkOut interface {
	Write(b []byte) (int, error)
	Close() error
}

// gousbDevice implements usbDevice on a top of *gousb.Device.
type gousbDevice struct {
	dev *gousb.Device
}

func newGousbDevice(dev *gousb.Device) *gousbDevice {
	return &gousbDevice{dev: dev}
}

func (d *gousbDevice) Descriptor() DeviceDescriptor {
	desc := d.dev.Desc

	numIf := 0
	if cfgNum, err := d.dev.ActiveConfigNum(); err == nil {
		if cfg, ok := desc.Configs[cfgNum]; ok {
			numIf = len(cfg.Interfaces)
		}
	}
	if numIf == 0 {
		for _, cfg := range desc.Configs {
			numIf = len(cfg.Interfaces)
			break
		}
	}

	return DeviceDescriptor{
		Bus:          desc.Bus,
		Address:      desc.Address,
		PortNumbers:  append([]int(nil), desc.Path...),
		Vendor:       uint16(desc.Vendor),
		Product:      uint16(desc.Product),
		NumInterface: numIf,
	}
}

func (d *gousbDevice) SerialDescriptorIndex() (int, error) {
	buf := make([]byte, deviceDescLen)
	n, err := d.dev.Control(stdReqTypeIn, stdReqGetDesc,
		uint16(descTypeDevice)<<8, 0, buf)
	if err != nil {
		return 0, err
	}
	if n <= iSerialNumberByte {
		return 0, fmt.Errorf("usbboot: short device descriptor (%d bytes)", n)
	}
	return int(buf[iSerialNumberByte]), nil
}

func (d *gousbDevice) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	return d.dev.Control(rType, request, val, idx, data)
}

func (d *gousbDevice) OpenBulkOut(ifNum, epNum int) (usbBulkOut, error) {
	cfgNum, err := d.dev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}

	cfg, err := d.dev.Config(cfgNum)
	if err != nil {
		return nil, &EndpointMismatch{Interface: ifNum, Endpoint: epNum}
	}

	iface, err := cfg.Interface(ifNum, 0)
	if err != nil {
		cfg.Close()
		return nil, &EndpointMismatch{Interface: ifNum, Endpoint: epNum}
	}

	ep, err := iface.OutEndpoint(epNum)
	if err != nil {
		iface.Close()
		cfg.Close()
		return nil, &EndpointMismatch{Interface: ifNum, Endpoint: epNum}
	}

	return &gousbBulkOut{ep: ep, iface: iface, cfg: cfg}, nil
}

func (d *gousbDevice) Reopen() error {
	// gousb has no direct re-open primitive on an already-owned
	// handle; resetting the auto-detach flag round-trips a control
	// request to the kernel, which is enough to release a stale
	// claim on hosts that need the nudge (§4.5 step 5).
	return d.dev.SetAutoDetach(true)
}

func (d *gousbDevice) Close() error {
	return d.dev.Close()
}

// gousbBulkOut implements usbBulkOut, holding the claimed
// Config/Interface alive until Close.
type gousbBulkOut struct {
	ep    *gousb.OutEndpoint
	iface *gousb.Interface
	cfg   *gousb.Config
}

func (b *gousbBulkOut) Write(p []byte) (int, error) {
	return b.ep.Write(p)
}

func (b *gousbBulkOut) Close() error {
	b.iface.Close()
	return b.cfg.Close()
}

// DeviceEnumerator lists currently attached, interesting USB devices.
// The scanner re-lists on every hotplug wakeup (see hotplug.go) and
// diffs successive snapshots into attach/detach events (§4.6) --
// gousb's public API offers synchronous enumeration but no
// attach/detach callback of its own.
type DeviceEnumerator interface {
	ListDevices() ([]usbDevice, error)
}

// gousbEnumerator implements DeviceEnumerator on a top of a
// *gousb.Context.
type gousbEnumerator struct {
	ctx *gousb.Context
}

// NewGousbEnumerator opens a gousb context and returns an enumerator
// backed by it, along with a close function the caller must invoke
// when done scanning.
func NewGousbEnumerator() (DeviceEnumerator, func(), error) {
	ctx := gousb.NewContext()
	return &gousbEnumerator{ctx: ctx}, func() { ctx.Close() }, nil
}

// ListDevices implements DeviceEnumerator. Only devices this module
// could plausibly act on (bootable ROMs or mass-storage
// re-enumerations) are opened, so attaching unrelated USB peripherals
// never claims their handles.
func (e *gousbEnumerator) ListDevices() ([]usbDevice, error) {
	devs, err := e.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		c := Classify(uint16(desc.Vendor), uint16(desc.Product))
		return c.Kind != Unrelated
	})

	if err != nil && len(devs) == 0 {
		return nil, err
	}

	out := make([]usbDevice, 0, len(devs))
	for _, d := range devs {
		out = append(out, newGousbDevice(d))
	}

	return out, nil
}
