package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceConfig declares one device instance and its per-device options.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`

	ResendTimeMs       int  `yaml:"resendTime"`
	MakeReadyDoesReset bool `yaml:"makeReadyDoesReset"`
	UseScheduling      bool `yaml:"useScheduling"`
	TimeBase           int  `yaml:"timeBase"`

	GatewayURL string `yaml:"gatewayUrl"`
	ISAUrl     string `yaml:"ISAUrl"`
	ZoneID     string `yaml:"zoneId"`
	ServerID   string `yaml:"serverId"`

	// MakeReadyCommands are replayed when makeReady runs with okToDestroy
	// set. HTTP devices decode each entry with httpdevice.CommandFromConfig
	// and drop entries it rejects; entries on video-server devices are not
	// decoded and are not replayed.
	MakeReadyCommands []map[string]any `yaml:"makeReadyCommands"`
}

// MappingConfig binds one timeline layer to a device output.
type MappingConfig struct {
	Device   string         `yaml:"device"`
	DeviceID string         `yaml:"deviceId"`
	Options  map[string]any `yaml:"options"`
}

// Manifest is the on-disk devices.yaml shape: the device roster plus the
// layer-to-device mapping table.
type Manifest struct {
	Devices  []DeviceConfig           `yaml:"devices"`
	Mappings map[string]MappingConfig `yaml:"mappings"`
}

// LoadManifest reads and validates the device manifest at path.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read devices manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes and validates a YAML manifest document.
func ParseManifest(raw []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse devices manifest: %w", err)
	}

	seen := make(map[string]bool, len(m.Devices))
	for i, d := range m.Devices {
		if d.ID == "" {
			return Manifest{}, fmt.Errorf("device #%d has no id", i)
		}
		if d.Kind == "" {
			return Manifest{}, fmt.Errorf("device %q has no kind", d.ID)
		}
		if seen[d.ID] {
			return Manifest{}, fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
	}

	for layerID, mapping := range m.Mappings {
		if mapping.Device == "" || mapping.DeviceID == "" {
			return Manifest{}, fmt.Errorf("mapping for layer %q must set device and deviceId", layerID)
		}
		if !seen[mapping.DeviceID] {
			return Manifest{}, fmt.Errorf("mapping for layer %q references unknown device %q", layerID, mapping.DeviceID)
		}
	}

	return m, nil
}
