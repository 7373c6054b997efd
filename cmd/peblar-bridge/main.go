package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peblar-bridge/api"
	"peblar-bridge/chargers/common"
	"peblar-bridge/chargers/peblar/client"
	"peblar-bridge/config"
	"peblar-bridge/coordinator"
	"peblar-bridge/dbus"
	"peblar-bridge/mqttbridge"
	"peblar-bridge/params"
	"peblar-bridge/util"

	"github.com/juju/loggo"
	"github.com/pkg/errors"
)

var log = loggo.GetLogger("peblar.cmd")

// setup validates the credentials, loads the first snapshot and checks
// whether the token may change settings. Connection problems are retried
// every retry interval; a rejected token is not.
func setup(ctx context.Context, coord *coordinator.Coordinator, retry time.Duration) (bool, error) {
	for {
		writable, err := trySetup(ctx, coord)
		if err == nil {
			return writable, nil
		}
		if client.IsAuthError(err) {
			return false, errors.Wrap(err, "charger rejected the access token, reauthentication required")
		}
		log.Warningf("charger not ready, retrying in %s: %s", retry, err)

		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func trySetup(ctx context.Context, coord *coordinator.Coordinator) (bool, error) {
	if err := coord.FirstRefresh(ctx); err != nil {
		return false, err
	}
	writable, err := coord.ProbeWriteAccess(ctx)
	if err != nil {
		return false, errors.Wrap(err, "checking write access")
	}
	return writable, nil
}

func newWorkers(ctx context.Context, cfg *config.Config, coord *coordinator.Coordinator, writable bool) ([]common.BasicWorker, error) {
	var workers []common.BasicWorker

	if cfg.MQTT.Enabled {
		w, err := mqttbridge.NewWorker(ctx, cfg, coord, writable)
		if err != nil {
			return nil, errors.Wrap(err, "creating mqtt worker")
		}
		workers = append(workers, w)
	}

	if cfg.DBus.Enabled {
		w, err := dbus.NewDBusWorker(ctx, cfg, coord, writable)
		if err != nil {
			return nil, errors.Wrap(err, "creating dbus worker")
		}
		workers = append(workers, w)
	}

	if cfg.API.Enabled {
		w, err := api.NewWorker(ctx, cfg, coord, writable)
		if err != nil {
			return nil, errors.Wrap(err, "creating api worker")
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// printUpdates writes every update to stdout. Used when no other consumer
// is configured.
func printUpdates(ctx context.Context, updates <-chan params.Update) {
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Err != nil {
				fmt.Printf("update failed: %s\n", u.Err)
				continue
			}
			asJs, _ := json.MarshalIndent(u.Snapshot, "", "  ")
			fmt.Printf("%s\n", asJs)
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgFile := flag.String("config", "", "peblar-bridge config file")
	flag.Parse()

	if *cfgFile == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.NewConfig(*cfgFile)
	if err != nil {
		log.Errorf("error parsing config: %q", err)
		os.Exit(1)
	}

	if err := util.SetupLogging(cfg); err != nil {
		log.Errorf("error setting up logging: %q", err)
		os.Exit(1)
	}

	cli := client.NewChargerClient(cfg.Charger.IPAddress, cfg.Charger.AccessToken, cfg.Charger.Timeout())
	coord := coordinator.NewCoordinator(ctx, cli, cfg.UpdateIntervalDuration())

	writable, err := setup(ctx, coord, cfg.SetupRetryDuration())
	if err != nil {
		log.Errorf("error setting up charger: %q", err)
		os.Exit(1)
	}
	log.Infof("connected to charger at %s (writable: %v)", cfg.Charger.IPAddress, writable)

	workers, err := newWorkers(ctx, cfg, coord, writable)
	if err != nil {
		log.Errorf("error creating workers: %q", err)
		os.Exit(1)
	}

	if len(workers) == 0 {
		updates, unsubscribe := coord.Subscribe()
		defer unsubscribe()
		go printUpdates(ctx, updates)
	}

	if err := coord.Start(); err != nil {
		log.Errorf("starting coordinator: %q", err)
		os.Exit(1)
	}

	for _, w := range workers {
		if err := w.Start(); err != nil {
			log.Errorf("starting worker: %q", err)
			os.Exit(1)
		}
	}

	<-ctx.Done()

	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(); err != nil {
			log.Warningf("stopping worker: %s", err)
		}
	}
	if err := coord.Stop(); err != nil {
		log.Warningf("stopping coordinator: %s", err)
	}
}
