package params

import "fmt"

type DeviceClass string

const (
	DeviceClassNone    DeviceClass = ""
	DeviceClassCurrent DeviceClass = "current"
	DeviceClassVoltage DeviceClass = "voltage"
	DeviceClassPower   DeviceClass = "power"
	DeviceClassEnergy  DeviceClass = "energy"
)

type StateClass string

const (
	StateClassNone            StateClass = ""
	StateClassMeasurement     StateClass = "measurement"
	StateClassTotalIncreasing StateClass = "total_increasing"
)

const (
	UnitMilliAmpere = "mA"
	UnitVolt        = "V"
	UnitWatt        = "W"
	UnitWattHour    = "Wh"
)

// SensorDescriptor holds the presentation metadata of a snapshot key.
type SensorDescriptor struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Unit        string      `json:"unit,omitempty"`
	DeviceClass DeviceClass `json:"device_class,omitempty"`
	StateClass  StateClass  `json:"state_class,omitempty"`
}

// NumberDescriptor describes a writable numeric value.
type NumberDescriptor struct {
	SensorDescriptor
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Validate checks that value can be written to the charger.
func (n NumberDescriptor) Validate(value float64) error {
	if value < n.Min || value > n.Max {
		return fmt.Errorf("%s must be between %v and %v, got %v", n.Key, n.Min, n.Max, value)
	}
	return nil
}

func current(key, name string) SensorDescriptor {
	return SensorDescriptor{
		Key:         key,
		Name:        name,
		Unit:        UnitMilliAmpere,
		DeviceClass: DeviceClassCurrent,
		StateClass:  StateClassMeasurement,
	}
}

func voltage(key, name string) SensorDescriptor {
	return SensorDescriptor{
		Key:         key,
		Name:        name,
		Unit:        UnitVolt,
		DeviceClass: DeviceClassVoltage,
		StateClass:  StateClassMeasurement,
	}
}

func power(key, name string) SensorDescriptor {
	return SensorDescriptor{
		Key:         key,
		Name:        name,
		Unit:        UnitWatt,
		DeviceClass: DeviceClassPower,
		StateClass:  StateClassMeasurement,
	}
}

func energy(key, name string) SensorDescriptor {
	return SensorDescriptor{
		Key:         key,
		Name:        name,
		Unit:        UnitWattHour,
		DeviceClass: DeviceClassEnergy,
		StateClass:  StateClassTotalIncreasing,
	}
}

// Sensors is the list of snapshot keys exposed as sensors.
var Sensors = []SensorDescriptor{
	current(ChargeCurrentLimitKey, "Max charging current"),
	{Key: ChargeStateDescriptionKey, Name: "Charge state"},
	{Key: ChargeCurrentLimitSourceKey, Name: "Charge current limit source"},
	current(CurrentPhase1Key, "Current phase 1"),
	voltage(VoltagePhase1Key, "Voltage phase 1"),
	power(PowerPhase1Key, "Power phase 1"),
	current(CurrentPhase2Key, "Current phase 2"),
	voltage(VoltagePhase2Key, "Voltage phase 2"),
	power(PowerPhase2Key, "Power phase 2"),
	current(CurrentPhase3Key, "Current phase 3"),
	voltage(VoltagePhase3Key, "Voltage phase 3"),
	power(PowerPhase3Key, "Power phase 3"),
	energy(EnergyTotalKey, "Total energy"),
	energy(EnergySessionKey, "Session energy"),
	power(PowerTotalKey, "Charge power"),
}

// ChargeCurrentLimitNumber is the charge current limit control, in mA.
var ChargeCurrentLimitNumber = NumberDescriptor{
	SensorDescriptor: current(ChargeCurrentLimitKey, "Max charging current"),
	Min:              0,
	Max:              20000,
	Step:             1,
}

// PresentSensors returns the descriptors whose key is present in snap.
func PresentSensors(snap Snapshot) []SensorDescriptor {
	var ret []SensorDescriptor
	for _, desc := range Sensors {
		if _, ok := snap[desc.Key]; ok {
			ret = append(ret, desc)
		}
	}
	return ret
}
