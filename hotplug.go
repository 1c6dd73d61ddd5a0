/* go-raspberrypi-usbboot
 *
 * USB hotplug notification, adapted from the teacher's hotplug.go.
 * gousb's public API has no hotplug primitive of its own, so this
 * module registers directly against libusb's hotplug API -- the one
 * piece of this module that needs cgo -- and only uses it to wake the
 * scanner's diff loop. The scanner still reconciles by re-enumerating
 * and diffing snapshots (poll, in scanner.go); this file only removes
 * the dead fixed-interval timer the original source carried (§9) in
 * favor of a real, event-driven wakeup.
 */

package usbboot

// #cgo pkg-config: libusb-1.0
// #include <libusb.h>
//
// void usbbootHotplugCallback(int bus, int addr, libusb_hotplug_event event);
//
// static int
// usbboot_hotplug_trampoline(libusb_context *ctx, libusb_device *device,
//         libusb_hotplug_event event, void *user_data)
// {
//     int bus = libusb_get_bus_number(device);
//     int addr = libusb_get_device_address(device);
//     usbbootHotplugCallback(bus, addr, event);
//     return 0;
// }
//
// static int
// usbboot_hotplug_register(libusb_hotplug_callback_handle *handle)
// {
//     return libusb_hotplug_register_callback(
//         NULL,
//         LIBUSB_HOTPLUG_EVENT_DEVICE_ARRIVED | LIBUSB_HOTPLUG_EVENT_DEVICE_LEFT,
//         LIBUSB_HOTPLUG_NO_FLAGS,
//         LIBUSB_HOTPLUG_MATCH_ANY,
//         LIBUSB_HOTPLUG_MATCH_ANY,
//         LIBUSB_HOTPLUG_MATCH_ANY,
//         usbboot_hotplug_trampoline,
//         NULL,
//         handle);
// }
//
// static void
// usbboot_hotplug_deregister(libusb_hotplug_callback_handle handle)
// {
//     libusb_hotplug_deregister_callback(NULL, handle);
// }
import "C"

import "fmt"

// hotplugSignal is signalled, without a payload, on every USB arrival
// or departure system-wide. The scanner's poll loop wakes on it and
// reconciles by re-enumerating and diffing (scanner.go's poll), the
// same division of labor as the teacher's hotplug.go/pnp.go pair.
var hotplugSignal = make(chan struct{}, 1)

//export usbbootHotplugCallback
func usbbootHotplugCallback(bus, addr C.int, event C.libusb_hotplug_event) {
	select {
	case hotplugSignal <- struct{}{}:
	default:
	}
}

// hotplugHandle is the deregistration token for the active hotplug
// subscription, zero when none is registered.
var hotplugHandle C.libusb_hotplug_callback_handle

// registerHotplug subscribes to libusb hotplug notifications. It is a
// process-wide subscription -- libusb permits only one context's
// worth of callbacks per process in the way this module uses it -- so
// Scanner.Start should be called at most once per process.
func registerHotplug() error {
	if C.libusb_has_capability(C.LIBUSB_CAP_HAS_HOTPLUG) == 0 {
		return fmt.Errorf("usbboot: libusb build has no hotplug support")
	}

	rc := C.usbboot_hotplug_register(&hotplugHandle)
	if rc != C.LIBUSB_SUCCESS {
		return fmt.Errorf("usbboot: libusb_hotplug_register_callback failed: %d", int(rc))
	}

	return nil
}

// deregisterHotplug cancels the subscription registered by
// registerHotplug.
func deregisterHotplug() {
	C.usbboot_hotplug_deregister(hotplugHandle)
}
