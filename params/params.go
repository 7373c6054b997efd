package params

import (
	"fmt"
	"time"
)

// Keys reported by the charger across the system, meter and evinterface
// endpoints.
const (
	FirmwareVersionKey          = "FirmwareVersion"
	PartNumberKey               = "ProductPn"
	SerialNumberKey             = "ProductSn"
	ChargeCurrentLimitKey       = "ChargeCurrentLimit"
	ChargeCurrentLimitActualKey = "ChargeCurrentLimitActual"
	ChargeCurrentLimitSourceKey = "ChargeCurrentLimitSource"
	EnergyTotalKey              = "EnergyTotal"
	EnergySessionKey            = "EnergySession"
	CurrentPhase1Key            = "CurrentPhase1"
	CurrentPhase2Key            = "CurrentPhase2"
	CurrentPhase3Key            = "CurrentPhase3"
	VoltagePhase1Key            = "VoltagePhase1"
	VoltagePhase2Key            = "VoltagePhase2"
	VoltagePhase3Key            = "VoltagePhase3"
	PowerPhase1Key              = "PowerPhase1"
	PowerPhase2Key              = "PowerPhase2"
	PowerPhase3Key              = "PowerPhase3"
	PowerTotalKey               = "PowerTotal"
	CPStateKey                  = "CpState"

	// ChargeStateDescriptionKey is not reported by the charger. It is
	// derived from CpState after every fetch.
	ChargeStateDescriptionKey = "ChargeStateDescription"
)

var knownKeys = map[string]struct{}{
	FirmwareVersionKey:          {},
	PartNumberKey:               {},
	SerialNumberKey:             {},
	ChargeCurrentLimitKey:       {},
	ChargeCurrentLimitActualKey: {},
	ChargeCurrentLimitSourceKey: {},
	EnergyTotalKey:              {},
	EnergySessionKey:            {},
	CurrentPhase1Key:            {},
	CurrentPhase2Key:            {},
	CurrentPhase3Key:            {},
	VoltagePhase1Key:            {},
	VoltagePhase2Key:            {},
	VoltagePhase3Key:            {},
	PowerPhase1Key:              {},
	PowerPhase2Key:              {},
	PowerPhase3Key:              {},
	PowerTotalKey:               {},
	CPStateKey:                  {},
	ChargeStateDescriptionKey:   {},
}

// IsKnownKey returns true if key is one of the fields we know how to present.
func IsKnownKey(key string) bool {
	_, ok := knownKeys[key]
	return ok
}

// Snapshot is one merged read of the system, meter and evinterface
// documents. A published snapshot is never modified; use Clone to get a
// mutable copy.
type Snapshot map[string]interface{}

func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	ret := make(Snapshot, len(s))
	for k, v := range s {
		ret[k] = v
	}
	return ret
}

// String returns the value of key formatted as a string.
func (s Snapshot) String(key string) (string, bool) {
	val, ok := s[key]
	if !ok || val == nil {
		return "", false
	}
	if v, ok := val.(string); ok {
		return v, true
	}
	return fmt.Sprintf("%v", val), true
}

// Float returns the numeric value of key. JSON numbers decode as float64,
// the other cases cover values set from Go code.
func (s Snapshot) Float(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Update is sent to coordinator subscribers after every refresh attempt.
type Update struct {
	// Snapshot is the last known good snapshot. On a failed refresh it is
	// the snapshot published by the previous successful one.
	Snapshot Snapshot
	// Err is the error of the refresh attempt, if any.
	Err error
	// LastUpdateSuccess is false while the charger is unreachable.
	LastUpdateSuccess bool
	// LastUpdated is the time of the last successful refresh.
	LastUpdated time.Time
}
