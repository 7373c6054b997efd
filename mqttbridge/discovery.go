package mqttbridge

import (
	"fmt"
	"strings"

	"peblar-bridge/params"
)

const manufacturer = "Peblar"

type topics struct {
	base      string
	discovery string
	nodeID    string
}

func newTopics(base, discovery, serial string) topics {
	return topics{
		base:      base,
		discovery: discovery,
		nodeID:    "peblar_" + sanitize(serial),
	}
}

// sanitize keeps only the characters Home Assistant accepts in node and
// object IDs.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (t topics) state() string {
	return fmt.Sprintf("%s/%s/state", t.base, t.nodeID)
}

func (t topics) availability() string {
	return fmt.Sprintf("%s/%s/availability", t.base, t.nodeID)
}

func (t topics) command(key string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.base, t.nodeID, key)
}

func (t topics) config(component, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discovery, component, t.nodeID, sanitize(key))
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
}

// discoveryConfig is the payload of a Home Assistant MQTT discovery
// message. Number specific fields are only set for the number component.
type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	AvailabilityTopic string          `json:"availability_topic"`
	Unit              string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	CommandTopic      string          `json:"command_topic,omitempty"`
	Min               *float64        `json:"min,omitempty"`
	Max               *float64        `json:"max,omitempty"`
	Step              *float64        `json:"step,omitempty"`
	Mode              string          `json:"mode,omitempty"`
	Device            discoveryDevice `json:"device"`
}

func deviceFromSnapshot(snap params.Snapshot) discoveryDevice {
	serial, _ := snap.String(params.SerialNumberKey)
	model, _ := snap.String(params.PartNumberKey)
	firmware, _ := snap.String(params.FirmwareVersionKey)
	return discoveryDevice{
		Identifiers:  []string{"peblar_" + serial},
		Name:         manufacturer,
		Manufacturer: manufacturer,
		Model:        model,
		SWVersion:    firmware,
		SerialNumber: serial,
	}
}

func sensorConfig(t topics, desc params.SensorDescriptor, device discoveryDevice) discoveryConfig {
	return discoveryConfig{
		Name:              desc.Name,
		UniqueID:          fmt.Sprintf("%s-%s", desc.Key, device.SerialNumber),
		StateTopic:        t.state(),
		ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", desc.Key),
		AvailabilityTopic: t.availability(),
		Unit:              desc.Unit,
		DeviceClass:       string(desc.DeviceClass),
		StateClass:        string(desc.StateClass),
		Device:            device,
	}
}

// discoveryMessages returns the discovery payloads for every sensor present
// in snap, keyed by topic. The charge current limit number is only included
// when writable is set.
func discoveryMessages(t topics, snap params.Snapshot, writable bool) map[string]discoveryConfig {
	device := deviceFromSnapshot(snap)
	ret := map[string]discoveryConfig{}
	for _, desc := range params.PresentSensors(snap) {
		ret[t.config("sensor", desc.Key)] = sensorConfig(t, desc, device)
	}

	number := params.ChargeCurrentLimitNumber
	if _, ok := snap[number.Key]; ok && writable {
		cfg := sensorConfig(t, number.SensorDescriptor, device)
		cfg.UniqueID = fmt.Sprintf("%s-number-%s", number.Key, device.SerialNumber)
		cfg.StateClass = ""
		cfg.CommandTopic = t.command(number.Key)
		lo, hi, step := number.Min, number.Max, number.Step
		cfg.Min = &lo
		cfg.Max = &hi
		cfg.Step = &step
		cfg.Mode = "box"
		ret[t.config("number", number.Key)] = cfg
	}
	return ret
}
