package dbus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/juju/loggo"
	"github.com/pkg/errors"

	"peblar-bridge/chargers/common"
	"peblar-bridge/config"
	"peblar-bridge/params"
)

var log = loggo.GetLogger("peblar.dbus")

const (
	busItemInterface = "com.victronenergy.BusItem"
	serviceName      = "com.victronenergy.evcharger.peblar_%d"
	commandTimeout   = 30 * time.Second

	// ProcessVersion is reported on /Mgmt/ProcessVersion.
	ProcessVersion = "1.0.0"
)

func connect(bus config.BusType) (*dbus.Conn, error) {
	if bus == config.SessionBus {
		return dbus.ConnectSessionBus()
	}
	return dbus.ConnectSystemBus()
}

// NewDBusWorker returns a worker that publishes the charger on D-Bus as a
// Venus OS evcharger service.
func NewDBusWorker(ctx context.Context, cfg *config.Config, coord common.Coordinator, writable bool) (*Worker, error) {
	if err := cfg.DBus.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}

	conn, err := connect(cfg.DBus.Bus)
	if err != nil {
		return nil, errors.Wrap(err, "creating dbus connection")
	}

	connection := fmt.Sprintf("http://%s", cfg.Charger.IPAddress)
	worker := &Worker{
		conn:     conn,
		ctx:      ctx,
		closed:   make(chan struct{}),
		quit:     make(chan struct{}),
		coord:    coord,
		writable: writable,
		name:     fmt.Sprintf(serviceName, cfg.DBus.Instance()),
		items:    busItems(config.ClientID, ProcessVersion, connection, cfg.DBus.Instance()),
		state:    coord.LastUpdate(),
	}
	return worker, nil
}

type Worker struct {
	conn   *dbus.Conn
	ctx    context.Context
	closed chan struct{}
	quit   chan struct{}

	coord    common.Coordinator
	writable bool
	name     string
	items    map[string]busItem

	mut   sync.Mutex
	state params.Update
}

// item is exported on a single object path.
type item struct {
	w    *Worker
	path string
}

func (i *item) GetValue() (dbus.Variant, *dbus.Error) {
	i.w.mut.Lock()
	defer i.w.mut.Unlock()
	return i.w.items[i.path].variant(i.w.state), nil
}

func (i *item) GetText() (string, *dbus.Error) {
	i.w.mut.Lock()
	defer i.w.mut.Unlock()
	return i.w.items[i.path].text(i.w.state), nil
}

// SetValue returns 0 on success, as Venus OS services do. Only /SetCurrent
// is writable.
func (i *item) SetValue(value dbus.Variant) (int32, *dbus.Error) {
	if i.path != setCurrentPath || !i.w.writable {
		return -1, nil
	}
	amps, err := valueAsFloat(value.Value())
	if err != nil {
		log.Warningf("invalid value for %s: %s", i.path, err)
		return -1, nil
	}
	milliAmps := amps * 1000
	if err := params.ChargeCurrentLimitNumber.Validate(milliAmps); err != nil {
		log.Warningf("rejecting %s: %s", i.path, err)
		return -1, nil
	}

	ctx, cancel := context.WithTimeout(i.w.ctx, commandTimeout)
	defer cancel()
	if err := i.w.coord.SetChargingCurrent(ctx, milliAmps); err != nil {
		log.Errorf("failed to set charging current: %s", err)
		return -1, dbus.MakeFailedError(err)
	}
	return 0, nil
}

// root is exported on "/" and returns every item at once.
type root struct {
	w *Worker
}

func (r *root) GetItems() (map[string]map[string]dbus.Variant, *dbus.Error) {
	r.w.mut.Lock()
	defer r.w.mut.Unlock()
	return itemsChanged(r.w.items, r.w.state), nil
}

func (r *root) GetValue() (map[string]dbus.Variant, *dbus.Error) {
	r.w.mut.Lock()
	defer r.w.mut.Unlock()
	ret := make(map[string]dbus.Variant, len(r.w.items))
	for path, it := range r.w.items {
		// Venus OS reports paths relative to the root here.
		ret[path[1:]] = it.variant(r.w.state)
	}
	return ret, nil
}

func (w *Worker) export() error {
	paths := make([]string, 0, len(w.items))
	for path := range w.items {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := w.conn.Export(&item{w: w, path: path}, dbus.ObjectPath(path), busItemInterface); err != nil {
			return errors.Wrapf(err, "exporting %s", path)
		}
	}
	if err := w.conn.Export(&root{w: w}, "/", busItemInterface); err != nil {
		return errors.Wrap(err, "exporting root")
	}
	return nil
}

func (w *Worker) emit() error {
	w.mut.Lock()
	body := itemsChanged(w.items, w.state)
	w.mut.Unlock()

	if err := w.conn.Emit("/", busItemInterface+".ItemsChanged", body); err != nil {
		return errors.Wrap(err, "emitting ItemsChanged")
	}
	return nil
}

func (w *Worker) dbusLoop(updates <-chan params.Update, unsubscribe func()) {
	defer func() {
		unsubscribe()
		if _, err := w.conn.ReleaseName(w.name); err != nil {
			log.Warningf("failed to release %s: %s", w.name, err)
		}
		w.conn.Close()
		close(w.closed)
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			w.mut.Lock()
			w.state = update
			w.mut.Unlock()

			if err := w.emit(); err != nil {
				log.Errorf("failed to send state change: %s", err)
			}
		case <-w.ctx.Done():
			return
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) Start() error {
	// Objects need to be in place before we claim the name.
	if err := w.export(); err != nil {
		return errors.Wrap(err, "exporting objects")
	}

	reply, err := w.conn.RequestName(w.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Wrapf(err, "requesting %s", w.name)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("%s is already taken", w.name)
	}
	log.Infof("registered %s", w.name)

	updates, unsubscribe := w.coord.Subscribe()
	go w.dbusLoop(updates, unsubscribe)
	return nil
}

func (w *Worker) Stop() error {
	close(w.quit)
	select {
	case <-w.closed:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for worker to exit")
	}
}
