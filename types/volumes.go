package types

import (
	"fmt"
	"sort"
)

// VolumeSpec is the canonical form of one storage attachment.
// DeleteOnTermination has already had its default applied.
type VolumeSpec struct {
	DeviceName          string `yaml:"device_name" json:"device_name"`
	VolumeType          string `yaml:"volume_type,omitempty" json:"volume_type,omitempty"`
	SizeGB              int32  `yaml:"size,omitempty" json:"size,omitempty"`
	IOPS                int32  `yaml:"iops,omitempty" json:"iops,omitempty"`
	DeleteOnTermination bool   `yaml:"delete_on_termination" json:"delete_on_termination"`
}

// VolumeDecl is one declared storage attachment before normalization.
// DeleteOnTermination is a pointer so an explicit false survives the
// trip through defaulting.
type VolumeDecl struct {
	DeviceName          string `yaml:"device_name,omitempty" json:"device_name,omitempty"`
	VolumeType          string `yaml:"volume_type,omitempty" json:"volume_type,omitempty"`
	SizeGB              int32  `yaml:"size,omitempty" json:"size,omitempty"`
	IOPS                int32  `yaml:"iops,omitempty" json:"iops,omitempty"`
	DeleteOnTermination *bool  `yaml:"delete_on_termination,omitempty" json:"delete_on_termination,omitempty"`
}

// BlockDeviceMap carries storage declarations in either of the two
// accepted input shapes: the canonical list form or the legacy
// per-device mapping form. Exactly one of List and Legacy is populated.
type BlockDeviceMap struct {
	List   []VolumeDecl
	Legacy map[string]VolumeDecl
}

// IsZero reports whether no volumes were declared.
func (m BlockDeviceMap) IsZero() bool {
	return len(m.List) == 0 && len(m.Legacy) == 0
}

// UnmarshalYAML accepts a sequence (canonical) or a mapping keyed by
// device name (legacy).
func (m *BlockDeviceMap) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var list []VolumeDecl
	if err := unmarshal(&list); err == nil {
		m.List = list
		m.Legacy = nil
		return nil
	}

	var legacy map[string]VolumeDecl
	if err := unmarshal(&legacy); err != nil {
		return fmt.Errorf("volumes must be a list or a device-keyed mapping: %w", err)
	}
	m.Legacy = legacy
	m.List = nil
	return nil
}

// MarshalYAML always emits the canonical list form. Legacy input is
// rewritten with the device names folded in, ordered by device name.
func (m BlockDeviceMap) MarshalYAML() (interface{}, error) {
	if len(m.Legacy) == 0 {
		return m.List, nil
	}

	names := make([]string, 0, len(m.Legacy))
	for name := range m.Legacy {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]VolumeDecl, 0, len(names))
	for _, name := range names {
		decl := m.Legacy[name]
		decl.DeviceName = name
		list = append(list, decl)
	}
	return list, nil
}
