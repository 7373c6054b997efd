package common

import (
	"context"

	"peblar-bridge/params"
)

type BasicWorker interface {
	Start() error
	Stop() error
}

// Coordinator is what entity layers (MQTT, D-Bus, HTTP API) need from the
// refresh coordinator.
type Coordinator interface {
	Snapshot() params.Snapshot
	LastUpdate() params.Update
	Subscribe() (<-chan params.Update, func())
	Refresh(ctx context.Context) error
	SetChargingCurrent(ctx context.Context, value float64) error
}

// Client is the charger API used by the coordinator.
type Client interface {
	// Authenticate checks that the charger accepts our access token.
	Authenticate(ctx context.Context) error
	// FetchSnapshot reads and merges all charger state documents.
	FetchSnapshot(ctx context.Context) (params.Snapshot, error)
	// SetMaxChargingCurrent sets the charge current limit, in mA.
	SetMaxChargingCurrent(ctx context.Context, value float64) (map[string]interface{}, error)
}
