package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"peblar-bridge/chargers/common"
	"peblar-bridge/chargers/peblar/client"
	"peblar-bridge/params"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var log = loggo.GetLogger("peblar.coordinator")

const (
	// DefaultUpdateInterval is how often the charger is polled.
	DefaultUpdateInterval = 30 * time.Second

	// subscriberBuffer is the number of updates a subscriber may fall
	// behind before the oldest one is dropped.
	subscriberBuffer = 4

	refreshKey = "refresh"
)

// ErrMalformedSnapshot is returned by Refresh when the charger omits a field
// we cannot work without.
var ErrMalformedSnapshot = fmt.Errorf("malformed snapshot")

func NewCoordinator(ctx context.Context, cli common.Client, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	return &Coordinator{
		cli:         cli,
		interval:    interval,
		subscribers: map[int]chan params.Update{},
		ctx:         ctx,
		closed:      make(chan struct{}),
		quit:        make(chan struct{}),
	}
}

// Coordinator owns the state of a single charger. It refreshes it on a
// fixed interval and on demand, and fans every result out to subscribers.
type Coordinator struct {
	cli      common.Client
	interval time.Duration

	// refreshes holds at most one in flight fetch. Concurrent callers
	// share its result.
	refreshes singleflight.Group

	mux               sync.RWMutex
	snapshot          params.Snapshot
	lastErr           error
	lastUpdateSuccess bool
	lastUpdated       time.Time
	// fetchSeq numbers fetches in the order they start.
	fetchSeq uint64

	subMux      sync.Mutex
	subscribers map[int]chan params.Update
	nextSubID   int

	ctx    context.Context
	closed chan struct{}
	quit   chan struct{}
}

// Validate confirms that the charger accepts our credentials. An
// *client.AuthError means the token was rejected, anything else means the
// charger could not be reached.
func (c *Coordinator) Validate(ctx context.Context) error {
	if err := c.cli.Authenticate(ctx); err != nil {
		if client.IsAuthError(err) || client.IsConnectionError(err) {
			return err
		}
		return &client.ConnectionError{Endpoint: client.SystemEndpoint, Err: err}
	}
	return nil
}

// FirstRefresh validates the credentials and loads the initial snapshot.
// Both need to succeed before any entity is created.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if err := c.Validate(ctx); err != nil {
		return errors.Wrap(err, "validating credentials")
	}
	if err := c.Refresh(ctx); err != nil {
		return errors.Wrap(err, "fetching initial state")
	}
	return nil
}

func (c *Coordinator) fetch(ctx context.Context) (params.Snapshot, error) {
	snap, err := c.cli.FetchSnapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching snapshot")
	}
	state, ok := snap[params.CPStateKey]
	if !ok {
		return nil, errors.Wrapf(ErrMalformedSnapshot, "missing %s", params.CPStateKey)
	}
	snap[params.ChargeStateDescriptionKey] = string(params.DescribeCPState(state))
	return snap, nil
}

// Refresh fetches a new snapshot and publishes it. If a refresh is already
// running, Refresh waits for it and returns its result. On failure the
// previous snapshot is kept and subscribers are told the data is stale.
//
// The fetch itself is bound to the coordinator's lifetime, not to ctx. A
// caller whose ctx is done stops waiting and gets ctx.Err(), while the
// refresh carries on for everyone else.
func (c *Coordinator) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

// refresh joins the in flight fetch, or starts one, and returns the sequence
// number of the fetch it waited for.
func (c *Coordinator) refresh(ctx context.Context) (uint64, error) {
	ch := c.refreshes.DoChan(refreshKey, func() (interface{}, error) {
		c.mux.Lock()
		c.fetchSeq++
		seq := c.fetchSeq
		c.mux.Unlock()

		snap, err := c.fetch(c.ctx)
		c.publish(snap, err)
		return seq, err
	})

	select {
	case res := <-ch:
		if res.Shared {
			log.Tracef("refresh coalesced with one already in flight")
		}
		seq, _ := res.Val.(uint64)
		return seq, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// refreshAfterWrite returns once a fetch that started after the write has
// completed. A fetch already in flight may predate the write, so it is
// waited for and followed by a new one.
func (c *Coordinator) refreshAfterWrite(ctx context.Context) error {
	c.mux.RLock()
	written := c.fetchSeq
	c.mux.RUnlock()

	for {
		seq, err := c.refresh(ctx)
		if seq > written || ctx.Err() != nil {
			return err
		}
	}
}

func (c *Coordinator) publish(snap params.Snapshot, err error) {
	c.mux.Lock()
	if err != nil {
		if c.lastUpdateSuccess {
			log.Errorf("error fetching charger data: %s", err)
		} else {
			log.Debugf("error fetching charger data: %s", err)
		}
		c.lastErr = err
		c.lastUpdateSuccess = false
	} else {
		if !c.lastUpdateSuccess && c.lastErr != nil {
			log.Infof("fetching charger data recovered")
		}
		c.snapshot = snap
		c.lastErr = nil
		c.lastUpdateSuccess = true
		c.lastUpdated = time.Now()
	}
	update := c.updateLocked()
	c.mux.Unlock()

	c.notify(update)
}

func (c *Coordinator) updateLocked() params.Update {
	return params.Update{
		Snapshot:          c.snapshot.Clone(),
		Err:               c.lastErr,
		LastUpdateSuccess: c.lastUpdateSuccess,
		LastUpdated:       c.lastUpdated,
	}
}

// SetChargingCurrent writes a new charge current limit, in mA, and refreshes
// so subscribers see the new limit right away. An *client.AuthError means
// the token is not allowed to change settings.
func (c *Coordinator) SetChargingCurrent(ctx context.Context, value float64) error {
	if _, err := c.cli.SetMaxChargingCurrent(ctx, value); err != nil {
		if client.IsAuthError(err) {
			return err
		}
		return errors.Wrap(err, "setting charging current")
	}
	log.Debugf("charge current limit set to %v", value)

	if err := c.refreshAfterWrite(ctx); err != nil {
		log.Warningf("refresh after setting charging current failed: %s", err)
	}
	return nil
}

// ProbeWriteAccess writes the current charge current limit back to the
// charger to find out if the token has write access.
func (c *Coordinator) ProbeWriteAccess(ctx context.Context) (bool, error) {
	limit, ok := c.Snapshot().Float(params.ChargeCurrentLimitKey)
	if !ok {
		return false, fmt.Errorf("no %s in snapshot", params.ChargeCurrentLimitKey)
	}
	if err := c.SetChargingCurrent(ctx, limit); err != nil {
		if client.IsAuthError(err) {
			log.Infof("access token is read only; charge current limit will not be writable")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Snapshot returns a copy of the last known good snapshot.
func (c *Coordinator) Snapshot() params.Snapshot {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.snapshot.Clone()
}

// LastUpdate returns the current state as it would be sent to subscribers.
func (c *Coordinator) LastUpdate() params.Update {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.updateLocked()
}

// Subscribe returns a channel receiving every update and a function that
// cancels the subscription. A subscriber that falls behind loses the oldest
// pending updates.
func (c *Coordinator) Subscribe() (<-chan params.Update, func()) {
	c.subMux.Lock()
	defer c.subMux.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan params.Update, subscriberBuffer)
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMux.Lock()
			defer c.subMux.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

func (c *Coordinator) notify(update params.Update) {
	c.subMux.Lock()
	defer c.subMux.Unlock()

	for id, ch := range c.subscribers {
		select {
		case ch <- update:
			continue
		default:
		}
		log.Debugf("subscriber %d is falling behind; dropping oldest update", id)
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- update:
		default:
		}
	}
}

func (c *Coordinator) closeSubscribers() {
	c.subMux.Lock()
	defer c.subMux.Unlock()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
}

func (c *Coordinator) loop() {
	timer := time.NewTicker(c.interval)
	defer func() {
		timer.Stop()
		c.closeSubscribers()
		close(c.closed)
	}()

	for {
		select {
		case <-timer.C:
			if err := c.Refresh(c.ctx); err != nil {
				log.Debugf("scheduled refresh failed: %s", err)
			}
		case <-c.quit:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) Start() error {
	go c.loop()
	return nil
}

func (c *Coordinator) Stop() error {
	close(c.quit)
	select {
	case <-c.closed:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for coordinator to exit")
	}
}
