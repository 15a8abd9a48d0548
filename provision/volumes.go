package provision

import (
	"sort"

	"github.com/forgeline/latentpool/types"
)

// io-class volume types are the only ones that accept provisioned IOPS.
var ioVolumeTypes = map[string]bool{
	"io1": true,
	"io2": true,
}

// NormalizeVolumes converts either accepted storage-declaration shape
// into the canonical ordered list. delete_on_termination defaults to
// true only when absent from the input; an explicit false is preserved.
func NormalizeVolumes(decl types.BlockDeviceMap) ([]types.VolumeSpec, error) {
	if decl.IsZero() {
		return nil, nil
	}

	entries := decl.List
	if len(decl.Legacy) > 0 {
		entries = legacyEntries(decl.Legacy)
	}

	out := make([]types.VolumeSpec, 0, len(entries))
	for _, e := range entries {
		if e.DeviceName == "" {
			return nil, &ConfigurationError{Field: "volumes", Reason: "device_name must be set on every volume"}
		}
		if e.IOPS != 0 && !ioVolumeTypes[e.VolumeType] {
			return nil, &ConfigurationError{Field: "volumes", Reason: "iops is only valid for io-class volume types (" + e.DeviceName + ")"}
		}

		spec := types.VolumeSpec{
			DeviceName:          e.DeviceName,
			VolumeType:          e.VolumeType,
			SizeGB:              e.SizeGB,
			IOPS:                e.IOPS,
			DeleteOnTermination: true,
		}
		if e.DeleteOnTermination != nil {
			spec.DeleteOnTermination = *e.DeleteOnTermination
		}
		out = append(out, spec)
	}

	return out, nil
}

// legacyEntries flattens the per-device mapping form into list entries.
// Devices are ordered by name so both input shapes normalize
// identically.
func legacyEntries(legacy map[string]types.VolumeDecl) []types.VolumeDecl {
	devices := make([]string, 0, len(legacy))
	for device := range legacy {
		devices = append(devices, device)
	}
	sort.Strings(devices)

	entries := make([]types.VolumeDecl, 0, len(devices))
	for _, device := range devices {
		e := legacy[device]
		e.DeviceName = device
		entries = append(entries, e)
	}
	return entries
}
