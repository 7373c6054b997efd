package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"peblar-bridge/chargers/common"
	"peblar-bridge/config"
)

const shutdownTimeout = 10 * time.Second

func NewWorker(ctx context.Context, cfg *config.Config, coord common.Coordinator, writable bool) (common.BasicWorker, error) {
	server := &http.Server{
		Handler:           NewAPI(coord, writable),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	return &Worker{
		addr:   cfg.API.ListenAddress,
		server: server,
		closed: make(chan struct{}),
	}, nil
}

type Worker struct {
	addr   string
	server *http.Server
	closed chan struct{}
}

func (w *Worker) Start() error {
	listener, err := net.Listen("tcp", w.addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", w.addr)
	}
	log.Infof("API listening on %s", listener.Addr())

	go func() {
		defer close(w.closed)
		if err := w.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("API server failed: %s", err)
		}
	}()
	return nil
}

func (w *Worker) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutting down API server")
	}
	<-w.closed
	return nil
}
