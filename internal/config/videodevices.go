package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// VideoDevice is one host capture device resolved from /dev/videoX, matched
// against a FT_VIDEO_DEV_<name> env var by USB vendor:product id.
type VideoDevice struct {
	Name     string // the <name> suffix from FT_VIDEO_DEV_<name>
	HostPath string // e.g. /dev/video0
}

// ResolveVideoDevices mirrors the original's VideoDeviceManager.load_devices
// (original_source/footron_controller/video_devices.py): it globs /dev/video*,
// reads each device's idVendor:idProduct from sysfs, and matches that id
// string against the value of every FT_VIDEO_DEV_<name> environment
// variable. A device whose id matches no configured name, or a configured
// name whose id matches no present device, is silently skipped — this
// exhibit's hardware varies per install and missing cameras aren't fatal.
func ResolveVideoDevices() []VideoDevice {
	return resolveVideoDevices("/dev", "/sys/class/video4linux", os.Environ())
}

// resolveVideoDevices is the root-injectable core of ResolveVideoDevices, so
// tests can point it at a fixture tree instead of the real /dev and
// /sys/class/video4linux.
func resolveVideoDevices(devRoot, sysfsRoot string, environ []string) []VideoDevice {
	byID := hostVideoDevicesByID(devRoot, sysfsRoot)

	const prefix = "FT_VIDEO_DEV_"
	var out []VideoDevice
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, prefix))
		hostPath, found := byID[v]
		if !found {
			continue
		}
		out = append(out, VideoDevice{Name: name, HostPath: hostPath})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// hostVideoDevicesByID maps "idVendor:idProduct" to a /dev/videoX path, the
// same id Chrome's own video capture device factory uses to disambiguate USB
// cameras (see the original's comment pointing at
// video_capture_device_factory_linux.cc).
func hostVideoDevicesByID(devRoot, sysfsRoot string) map[string]string {
	devices, _ := filepath.Glob(filepath.Join(devRoot, "video*"))
	sort.Strings(devices)

	out := map[string]string{}
	for _, dev := range devices {
		name := filepath.Base(dev)
		// Built by string concatenation rather than filepath.Join: Join runs
		// the result through Clean, which would lexically collapse
		// ".../device/.." away before the kernel ever sees it. "device" is a
		// symlink to the underlying USB interface in real sysfs, and
		// idVendor/idProduct live one directory above that target — the
		// traversal only resolves correctly if the ".." reaches the open()
		// syscall literally, so the symlink gets followed first.
		deviceDir := filepath.Join(sysfsRoot, name) + "/device"
		vendor, err := os.ReadFile(deviceDir + "/../idVendor")
		if err != nil {
			continue
		}
		product, err := os.ReadFile(deviceDir + "/../idProduct")
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(vendor)) + ":" + strings.TrimSpace(string(product))
		out[id] = dev
	}
	return out
}
