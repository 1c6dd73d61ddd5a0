/* go-raspberrypi-usbboot
 *
 * Program configuration. Ported from the teacher's conf.go, but wired
 * onto gopkg.in/ini.v1 -- the teacher's own go.mod lists that
 * dependency yet never imports it, hand-rolling an .ini parser
 * instead (see DESIGN.md). This module actually uses it.
 */

package usbboot

import (
	"os"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds the tunables of the boot protocol and transport. Every
// field has a default matching the literal values in spec.md §4; a
// config file only needs to set the ones it wants to override.
type Config struct {
	// BlobRoot is the root of the blob store (§6).
	BlobRoot string

	// ControlTimeout bounds every control transfer (§4.4).
	ControlTimeout time.Duration

	// BulkTimeout bounds every bulk transfer (§4.4).
	BulkTimeout time.Duration

	// BulkChunkSize is the maximum size of one bulk-write chunk
	// (§4.4).
	BulkChunkSize int

	// StallRetries is the maximum number of attempts (including the
	// first) for one bulk chunk before giving up (§4.4).
	StallRetries int

	// ReadBackoff is how long the file-server loop pauses before
	// retrying a transient read error (§4.5 step 1).
	ReadBackoff time.Duration

	// SettleDelay is how long the file-server loop sleeps after
	// Done, before nudging the device with one open() attempt
	// (§4.5 step 5).
	SettleDelay time.Duration

	// DetachGrace is how long the scanner waits, after a detach
	// event, before assuming the device was physically unplugged
	// (§4.6).
	DetachGrace time.Duration

	// LogLevel is the default log level mask.
	LogLevel LogLevel
}

// DefaultConfig returns a Config with every field set to the literal
// default from spec.md.
func DefaultConfig() Config {
	return Config{
		ControlTimeout: 10 * time.Second,
		BulkTimeout:    10 * time.Second,
		BulkChunkSize:  1024 * 1024,
		StallRetries:   3,
		ReadBackoff:    100 * time.Millisecond,
		SettleDelay:    2 * time.Second,
		DetachGrace:    5 * time.Second,
		LogLevel:       LogError | LogInfo,
	}
}

// LoadConfig reads path as an .ini file and overlays it onto
// DefaultConfig(). A missing file is not an error: LoadConfig returns
// the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}

	sec := f.Section("usbboot")

	if k := sec.Key("blob-root"); k.String() != "" {
		cfg.BlobRoot = k.String()
	}
	if k := sec.Key("control-timeout"); k.String() != "" {
		if d, err := k.Duration(); err == nil {
			cfg.ControlTimeout = d
		}
	}
	if k := sec.Key("bulk-timeout"); k.String() != "" {
		if d, err := k.Duration(); err == nil {
			cfg.BulkTimeout = d
		}
	}
	if k := sec.Key("bulk-chunk-size"); k.String() != "" {
		if n, err := k.Int(); err == nil && n > 0 {
			cfg.BulkChunkSize = n
		}
	}
	if k := sec.Key("stall-retries"); k.String() != "" {
		if n, err := k.Int(); err == nil && n > 0 {
			cfg.StallRetries = n
		}
	}
	if k := sec.Key("read-backoff"); k.String() != "" {
		if d, err := k.Duration(); err == nil {
			cfg.ReadBackoff = d
		}
	}
	if k := sec.Key("settle-delay"); k.String() != "" {
		if d, err := k.Duration(); err == nil {
			cfg.SettleDelay = d
		}
	}
	if k := sec.Key("detach-grace"); k.String() != "" {
		if d, err := k.Duration(); err == nil {
			cfg.DetachGrace = d
		}
	}
	if k := sec.Key("log-level"); k.String() != "" {
		cfg.LogLevel = parseLogLevel(k.String())
	}

	return cfg, nil
}

// parseLogLevel parses a comma-separated list of level names. Unknown
// names are silently ignored, matching the teacher's lenient
// confLoadLogLevelKey.
func parseLogLevel(s string) LogLevel {
	var mask LogLevel

	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			switch trimSpace(s[start:i]) {
			case "error":
				mask |= LogError
			case "info":
				mask |= LogInfo | LogError
			case "debug":
				mask |= LogDebug | LogInfo | LogError
			case "trace-usb":
				mask |= LogTraceUSB | LogDebug | LogInfo | LogError
			case "all":
				mask |= LogAll
			}
			start = i + 1
		}
	}

	return mask
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
