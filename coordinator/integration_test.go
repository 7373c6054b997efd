package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"peblar-bridge/chargers/peblar/client"
	"peblar-bridge/params"
)

// chargerServer serves the three state documents and applies PATCHes of the
// charge current limit to the evinterface document.
type chargerServer struct {
	mux         sync.Mutex
	system      map[string]interface{}
	meter       map[string]interface{}
	evInterface map[string]interface{}
	readOnly    bool
}

func (c *chargerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mux.Lock()
	defer c.mux.Unlock()

	var doc map[string]interface{}
	switch strings.TrimPrefix(r.URL.Path, "/api/wlac/v1/") {
	case client.SystemEndpoint:
		doc = c.system
	case client.MeterEndpoint:
		doc = c.meter
	case client.EVInterfaceEndpoint:
		doc = c.evInterface
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if r.Method == http.MethodPatch {
		if c.readOnly {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body map[string]float64
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		doc[params.ChargeCurrentLimitKey] = body[params.ChargeCurrentLimitKey]
		doc[params.ChargeCurrentLimitActualKey] = body[params.ChargeCurrentLimitKey]
	}
	json.NewEncoder(w).Encode(doc)
}

func newChargerServer(t *testing.T) (*chargerServer, *client.PeblarClient) {
	t.Helper()
	charger := &chargerServer{
		system:      map[string]interface{}{"FirmwareVersion": "1.2", "ProductSn": "ABC123", "CpState": "State C"},
		meter:       map[string]interface{}{"CurrentPhase1": 10},
		evInterface: map[string]interface{}{"ChargeCurrentLimit": 16000},
	}
	srv := httptest.NewServer(charger)
	t.Cleanup(srv.Close)
	return charger, client.NewPeblarClient(strings.TrimPrefix(srv.URL, "http://"), "token", 5*time.Second)
}

func TestCoordinatorAgainstCharger(t *testing.T) {
	_, cli := newChargerServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(ctx, cli, time.Hour)

	if err := c.FirstRefresh(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := c.Snapshot()
	want := params.Snapshot{
		"FirmwareVersion":        "1.2",
		"ProductSn":              "ABC123",
		"CpState":                "State C",
		"CurrentPhase1":          10.0,
		"ChargeCurrentLimit":     16000.0,
		"ChargeStateDescription": "EV connected and charging",
	}
	if len(snap) != len(want) {
		t.Fatalf("expected %v, got %v", want, snap)
	}
	for k, v := range want {
		if snap[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, snap[k])
		}
	}

	if err := c.SetChargingCurrent(ctx, 5000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Snapshot()[params.ChargeCurrentLimitActualKey]; got != 5000.0 {
		t.Fatalf("expected ChargeCurrentLimitActual 5000, got %v", got)
	}
}

func TestCoordinatorReadOnlyToken(t *testing.T) {
	charger, cli := newChargerServer(t)
	charger.readOnly = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(ctx, cli, time.Hour)

	if err := c.FirstRefresh(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writable, err := c.ProbeWriteAccess(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if writable {
		t.Fatalf("expected read only access")
	}
	if err := c.SetChargingCurrent(ctx, 5000); !client.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
