package params

import "testing"

func TestDescribeCPState(t *testing.T) {
	tests := []struct {
		in   interface{}
		want ChargerStatus
	}{
		{"State A", StatusDisconnected},
		{"State B", StatusSuspended},
		{"State C", StatusCharging},
		{"State D", StatusChargingVentilation},
		{"State E", StatusError},
		{"State F", StatusFault},
		{"State I", StatusInvalid},
		{"State U", StatusUnknown},
		{"State Z", StatusUnknown},
		{"state a", StatusUnknown},
		{"", StatusUnknown},
		{3.0, StatusUnknown},
		{nil, StatusUnknown},
	}

	for _, tc := range tests {
		if got := DescribeCPState(tc.in); got != tc.want {
			t.Errorf("DescribeCPState(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	snap := Snapshot{CPStateKey: "State A"}
	cp := snap.Clone()
	cp[CPStateKey] = "State C"
	if snap[CPStateKey] != "State A" {
		t.Fatalf("clone modified the original snapshot")
	}

	var empty Snapshot
	if empty.Clone() != nil {
		t.Fatalf("expected nil clone of nil snapshot")
	}
}

func TestSnapshotAccessors(t *testing.T) {
	snap := Snapshot{
		SerialNumberKey:       "ABC123",
		ChargeCurrentLimitKey: 16000.0,
		PowerTotalKey:         nil,
	}

	if v, ok := snap.String(SerialNumberKey); !ok || v != "ABC123" {
		t.Errorf("unexpected serial: %q %v", v, ok)
	}
	if v, ok := snap.String(ChargeCurrentLimitKey); !ok || v != "16000" {
		t.Errorf("unexpected formatted limit: %q %v", v, ok)
	}
	if _, ok := snap.String(PowerTotalKey); ok {
		t.Errorf("expected null value to be absent")
	}
	if v, ok := snap.Float(ChargeCurrentLimitKey); !ok || v != 16000 {
		t.Errorf("unexpected limit: %v %v", v, ok)
	}
	if _, ok := snap.Float(SerialNumberKey); ok {
		t.Errorf("expected string value to not be a float")
	}
}

func TestChargeCurrentLimitRange(t *testing.T) {
	for _, v := range []float64{0, 6000, 20000} {
		if err := ChargeCurrentLimitNumber.Validate(v); err != nil {
			t.Errorf("unexpected error for %v: %v", v, err)
		}
	}
	for _, v := range []float64{-1, 20001} {
		if err := ChargeCurrentLimitNumber.Validate(v); err == nil {
			t.Errorf("expected error for %v", v)
		}
	}
}

func TestPresentSensors(t *testing.T) {
	snap := Snapshot{
		CurrentPhase1Key:          10.0,
		ChargeStateDescriptionKey: string(StatusCharging),
		"SomethingElse":           1.0,
	}
	got := PresentSensors(snap)
	if len(got) != 2 {
		t.Fatalf("expected 2 sensors, got %d", len(got))
	}
	for _, desc := range got {
		if !IsKnownKey(desc.Key) {
			t.Errorf("descriptor for unknown key %q", desc.Key)
		}
	}
	if IsKnownKey("SomethingElse") {
		t.Errorf("SomethingElse should not be a known key")
	}
}
