/* go-raspberrypi-usbboot
 *
 * Device identity: classifying a USB device by (vendor, product) and
 * computing its stable port id
 */

package usbboot

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceFamily enumerates the two supported SoC boot-ROM families.
type DeviceFamily int

const (
	// FamilyUnknown is the zero value; never assigned to a real
	// classification, only used as a "no family" placeholder.
	FamilyUnknown DeviceFamily = iota

	// FamilyCm3Like covers BCM2708/BCM2710 boot ROMs (CM1/CM3/Zero).
	FamilyCm3Like

	// FamilyCm4 covers the BCM2711 boot ROM (CM4).
	FamilyCm4
)

// String returns the family name, also used as the blob subdirectory
// name for FamilyCm3Like ("raspberrypi") and FamilyCm4 ("cm4").
func (f DeviceFamily) String() string {
	switch f {
	case FamilyCm3Like:
		return "raspberrypi"
	case FamilyCm4:
		return "cm4"
	default:
		return "unknown"
	}
}

// LastStep is the family-specific terminal progress counter (§3).
func (f DeviceFamily) LastStep() int {
	switch f {
	case FamilyCm3Like:
		return 40
	case FamilyCm4:
		return 10
	default:
		return 0
	}
}

// ClassKind tags the outcome of Classify.
type ClassKind int

const (
	// Unrelated devices are ignored by the scanner.
	Unrelated ClassKind = iota

	// BootCapable devices are a SoC boot ROM awaiting bootcode.bin
	// or, post-upload, a stage-2 loader awaiting file requests.
	BootCapable

	// MassStorageOfInterest is the post-boot mass-storage
	// enumeration of a device this module previously transformed.
	MassStorageOfInterest
)

// Classification is the result of classifying one USB device by its
// (vendor, product) pair.
type Classification struct {
	Kind    ClassKind
	Family  DeviceFamily // valid when Kind == BootCapable
	Vendor  uint16       // the matched vendor id, for diagnostics
	Product uint16       // the matched product id, for diagnostics
}

// usbIdentity is a (vendor, product) pair, bit-exact per §6.
type usbIdentity struct {
	vendor, product uint16
}

// classifyTable is the bit-exact identity table of §4.1/§6.
var classifyTable = map[usbIdentity]Classification{
	{0x0a5c, 0x2763}: {Kind: BootCapable, Family: FamilyCm3Like}, // BCM2708 boot ROM
	{0x0a5c, 0x2764}: {Kind: BootCapable, Family: FamilyCm3Like}, // BCM2710 boot ROM
	{0x0a5c, 0x2711}: {Kind: BootCapable, Family: FamilyCm4},     // BCM2711 boot ROM
	{0x0a5c, 0x0001}: {Kind: MassStorageOfInterest},              // CM4 post-boot
	{0x0525, 0xa4a5}: {Kind: MassStorageOfInterest},              // CM3/Zero post-boot (NetChip ID reuse)
}

// Classify classifies a USB device by its (vendor, product) pair. It
// is a pure function: same inputs always produce the same
// Classification.
func Classify(vendorID, productID uint16) Classification {
	id := usbIdentity{vendorID, productID}
	if c, ok := classifyTable[id]; ok {
		c.Vendor, c.Product = vendorID, productID
		return c
	}
	return Classification{Kind: Unrelated, Vendor: vendorID, Product: productID}
}

// PortID computes the stable, printable port identifier for a device,
// given its bus number and USB topological port-number chain. It
// survives the device's own re-enumerations, because the chain
// describes the physical port, not the device's bus address.
//
// If portNumbers is empty (no port chain available, e.g. a
// root-hub-attached device on some platforms), the bus number alone
// is returned.
func PortID(bus int, portNumbers []int) string {
	if len(portNumbers) == 0 {
		return strconv.Itoa(bus)
	}

	parts := make([]string, len(portNumbers))
	for i, p := range portNumbers {
		parts[i] = strconv.Itoa(p)
	}

	return fmt.Sprintf("%d-%s", bus, strings.Join(parts, "."))
}

// DeviceID computes the coarser bus:address identifier used only to
// deduplicate classification across the initial sweep and the live
// attach stream (§4.1, §9). Unlike PortID, it does not survive
// re-enumeration.
func DeviceID(bus, address int) string {
	return fmt.Sprintf("%d:%d", bus, address)
}
