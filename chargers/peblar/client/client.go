package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"peblar-bridge/chargers/common"
	"peblar-bridge/params"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
)

var log = loggo.GetLogger("peblar.client")

const (
	apiPath = "/api/wlac/v1"

	SystemEndpoint      = "system"
	MeterEndpoint       = "meter"
	EVInterfaceEndpoint = "evinterface"

	// maxErrorBody caps how much of an error response we keep in HTTPError.
	maxErrorBody = 256
)

// snapshotEndpoints are merged in this order. On key collision the later
// document wins.
var snapshotEndpoints = []string{SystemEndpoint, MeterEndpoint, EVInterfaceEndpoint}

func NewChargerClient(addr, token string, timeout time.Duration) common.Client {
	return NewPeblarClient(addr, token, timeout)
}

// NewPeblarClient returns a client for the local REST API of the charger at
// addr. A zero timeout disables request timeouts.
func NewPeblarClient(addr, token string, timeout time.Duration) *PeblarClient {
	return &PeblarClient{
		addr:  addr,
		token: token,
		cli:   &http.Client{Timeout: timeout},
	}
}

type PeblarClient struct {
	addr  string
	token string
	cli   *http.Client
}

// hostPart brackets a bare IPv6 address so it can be used in a URL.
func hostPart(addr string) string {
	if ip := net.ParseIP(addr); ip != nil && strings.Contains(addr, ":") {
		return "[" + addr + "]"
	}
	return addr
}

func (h *PeblarClient) url(endpoint string) string {
	return fmt.Sprintf("http://%s%s/%s", hostPart(h.addr), apiPath, endpoint)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func truncate(body []byte) string {
	b := bytes.TrimSpace(body)
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}

// do sends a request and returns the status code and full response body.
// Transport level failures are returned as *ConnectionError.
func (h *PeblarClient) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.url(endpoint), body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", h.token)

	resp, err := h.cli.Do(req)
	if err != nil {
		return 0, nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &ConnectionError{Endpoint: endpoint, Err: errors.Wrap(err, "reading response")}
	}
	log.Tracef("%s %s: %d", method, endpoint, resp.StatusCode)
	return resp.StatusCode, data, nil
}

func (h *PeblarClient) getDocument(ctx context.Context, endpoint string) (map[string]interface{}, error) {
	status, body, err := h.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, &ConnectionError{
			Endpoint: endpoint,
			Err: &HTTPError{
				Method:     http.MethodGet,
				Endpoint:   endpoint,
				StatusCode: status,
				Body:       truncate(body),
			},
		}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrapf(err, "decoding %s response", endpoint)
	}
	if doc == nil {
		return nil, fmt.Errorf("empty %s document", endpoint)
	}
	return doc, nil
}

// Authenticate issues a GET on the system endpoint. A 401 is returned as
// *AuthError, any other failure as *ConnectionError.
func (h *PeblarClient) Authenticate(ctx context.Context) error {
	status, body, err := h.do(ctx, http.MethodGet, SystemEndpoint, nil)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return &AuthError{
			Method:     http.MethodGet,
			Endpoint:   SystemEndpoint,
			StatusCode: status,
		}
	}
	if !isSuccess(status) {
		return &ConnectionError{
			Endpoint: SystemEndpoint,
			Err: &HTTPError{
				Method:     http.MethodGet,
				Endpoint:   SystemEndpoint,
				StatusCode: status,
				Body:       truncate(body),
			},
		}
	}
	return nil
}

// FetchSnapshot reads the system, meter and evinterface documents and merges
// them, in that order, into a single snapshot. Either all three reads
// succeed or an error is returned.
func (h *PeblarClient) FetchSnapshot(ctx context.Context) (params.Snapshot, error) {
	snap := params.Snapshot{}
	source := map[string]string{}
	for _, endpoint := range snapshotEndpoints {
		doc, err := h.getDocument(ctx, endpoint)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching %s", endpoint)
		}
		for key, val := range doc {
			if prev, ok := source[key]; ok {
				log.Warningf("%s overrides %s from %s", key, key, prev)
			}
			if !params.IsKnownKey(key) {
				log.Tracef("passing through unknown key %s from %s", key, endpoint)
			}
			snap[key] = val
			source[key] = endpoint
		}
	}
	return snap, nil
}

// SetMaxChargingCurrent patches the charge current limit. A 403 means the
// token may read but not write and is returned as *AuthError.
func (h *PeblarClient) SetMaxChargingCurrent(ctx context.Context, value float64) (map[string]interface{}, error) {
	payload, err := json.Marshal(map[string]float64{
		params.ChargeCurrentLimitKey: value,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encoding request")
	}

	status, body, err := h.do(ctx, http.MethodPatch, EVInterfaceEndpoint, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusForbidden {
		return nil, &AuthError{
			Method:     http.MethodPatch,
			Endpoint:   EVInterfaceEndpoint,
			StatusCode: status,
		}
	}
	if !isSuccess(status) {
		return nil, &HTTPError{
			Method:     http.MethodPatch,
			Endpoint:   EVInterfaceEndpoint,
			StatusCode: status,
			Body:       truncate(body),
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var ret map[string]interface{}
	if err := json.Unmarshal(body, &ret); err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}
	return ret, nil
}
