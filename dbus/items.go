package dbus

import (
	"fmt"
	"math"

	dbus "github.com/godbus/dbus/v5"

	"peblar-bridge/params"
)

// Venus OS evcharger status codes.
const (
	statusDisconnected int32 = 0
	statusConnected    int32 = 1
	statusCharging     int32 = 2
	statusError        int32 = 10
)

var cpStateStatus = map[params.ChargerStatus]int32{
	params.StatusDisconnected:        statusDisconnected,
	params.StatusSuspended:           statusConnected,
	params.StatusCharging:            statusCharging,
	params.StatusChargingVentilation: statusCharging,
	params.StatusError:               statusError,
	params.StatusFault:               statusError,
	params.StatusInvalid:             statusError,
}

const (
	setCurrentPath = "/SetCurrent"
	connectedPath  = "/Connected"
)

// invalid is how Venus OS represents a value that is not available.
var invalid = dbus.MakeVariant([]int32{})

type busItem struct {
	// value computes the item from the last update. ok is false when
	// the value is not available.
	value func(update params.Update) (interface{}, bool)
	unit  string
}

// scaled converts a charger value to Venus OS units by dividing it.
func scaled(key string, divisor float64) func(params.Update) (interface{}, bool) {
	return func(update params.Update) (interface{}, bool) {
		v, ok := update.Snapshot.Float(key)
		if !ok {
			return nil, false
		}
		return v / divisor, true
	}
}

func textKey(key string) func(params.Update) (interface{}, bool) {
	return func(update params.Update) (interface{}, bool) {
		v, ok := update.Snapshot.String(key)
		if !ok {
			return nil, false
		}
		return v, true
	}
}

func constant(v interface{}) func(params.Update) (interface{}, bool) {
	return func(params.Update) (interface{}, bool) {
		return v, true
	}
}

// chargingCurrent is the highest current drawn on any phase, in A.
func chargingCurrent(update params.Update) (interface{}, bool) {
	var found bool
	var current float64
	for _, key := range []string{params.CurrentPhase1Key, params.CurrentPhase2Key, params.CurrentPhase3Key} {
		if v, ok := update.Snapshot.Float(key); ok {
			found = true
			current = math.Max(current, v)
		}
	}
	if !found {
		return nil, false
	}
	return current / 1000, true
}

func status(update params.Update) (interface{}, bool) {
	state, ok := update.Snapshot[params.CPStateKey]
	if !ok {
		return nil, false
	}
	if code, ok := cpStateStatus[params.DescribeCPState(state)]; ok {
		return code, true
	}
	return nil, false
}

func connected(update params.Update) (interface{}, bool) {
	if update.LastUpdateSuccess {
		return int32(1), true
	}
	return int32(0), true
}

func busItems(processName, processVersion, connection string, deviceInstance uint) map[string]busItem {
	return map[string]busItem{
		"/Mgmt/ProcessName":    {value: constant(processName)},
		"/Mgmt/ProcessVersion": {value: constant(processVersion)},
		"/Mgmt/Connection":     {value: constant(connection)},
		"/DeviceInstance":      {value: constant(int32(deviceInstance))},
		"/ProductName":         {value: constant("Peblar")},
		"/CustomName":          {value: constant("Peblar")},
		"/Serial":              {value: textKey(params.SerialNumberKey)},
		"/FirmwareVersion":     {value: textKey(params.FirmwareVersionKey)},
		connectedPath:          {value: connected},
		"/Status":              {value: status},
		"/Ac/Power":            {value: scaled(params.PowerTotalKey, 1), unit: "W"},
		"/Ac/L1/Power":         {value: scaled(params.PowerPhase1Key, 1), unit: "W"},
		"/Ac/L2/Power":         {value: scaled(params.PowerPhase2Key, 1), unit: "W"},
		"/Ac/L3/Power":         {value: scaled(params.PowerPhase3Key, 1), unit: "W"},
		"/Ac/Energy/Forward":   {value: scaled(params.EnergyTotalKey, 1000), unit: "kWh"},
		"/Session/Energy":      {value: scaled(params.EnergySessionKey, 1000), unit: "kWh"},
		"/Current":             {value: chargingCurrent, unit: "A"},
		setCurrentPath:         {value: scaled(params.ChargeCurrentLimitKey, 1000), unit: "A"},
		"/MaxCurrent":          {value: constant(params.ChargeCurrentLimitNumber.Max / 1000), unit: "A"},
	}
}

func (b busItem) variant(update params.Update) dbus.Variant {
	v, ok := b.value(update)
	if !ok {
		return invalid
	}
	return dbus.MakeVariant(v)
}

func (b busItem) text(update params.Update) string {
	v, ok := b.value(update)
	if !ok {
		return "---"
	}
	if f, isFloat := v.(float64); isFloat {
		if b.unit != "" {
			return fmt.Sprintf("%.2f%s", f, b.unit)
		}
		return fmt.Sprintf("%.2f", f)
	}
	if b.unit != "" {
		return fmt.Sprintf("%v%s", v, b.unit)
	}
	return fmt.Sprintf("%v", v)
}

// itemsChanged builds the body of an ItemsChanged signal.
func itemsChanged(items map[string]busItem, update params.Update) map[string]map[string]dbus.Variant {
	ret := make(map[string]map[string]dbus.Variant, len(items))
	for path, item := range items {
		ret[path] = map[string]dbus.Variant{
			"Value": item.variant(update),
			"Text":  dbus.MakeVariant(item.text(update)),
		}
	}
	return ret
}

func valueAsFloat(val interface{}) (float64, error) {
	switch v := val.(type) {
	case int:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("invalid type %T", val)
	}
}
