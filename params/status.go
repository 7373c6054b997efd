package params

// ChargerStatus is the human readable form of a control pilot state.
type ChargerStatus string

const (
	StatusDisconnected        ChargerStatus = "No EV connected"
	StatusSuspended           ChargerStatus = "EV connected but suspended"
	StatusCharging            ChargerStatus = "EV connected and charging"
	StatusChargingVentilation ChargerStatus = "Same as C but ventilation requested"
	StatusError               ChargerStatus = "Error, short to PE or powered off"
	StatusFault               ChargerStatus = "Fault"
	StatusInvalid             ChargerStatus = "Invalid CP level measured"
	StatusUnknown             ChargerStatus = "Unknown"
)

// IEC 61851 control pilot states as reported in CpState.
var cpStates = map[string]ChargerStatus{
	"State A": StatusDisconnected,
	"State B": StatusSuspended,
	"State C": StatusCharging,
	"State D": StatusChargingVentilation,
	"State E": StatusError,
	"State F": StatusFault,
	"State I": StatusInvalid,
	"State U": StatusUnknown,
}

// DescribeCPState maps a raw CpState value to its description. Anything we
// don't recognize is StatusUnknown.
func DescribeCPState(state interface{}) ChargerStatus {
	s, ok := state.(string)
	if !ok {
		return StatusUnknown
	}
	if status, ok := cpStates[s]; ok {
		return status
	}
	return StatusUnknown
}
