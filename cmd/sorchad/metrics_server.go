package main

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sorchaledger/sorcha/co"
)

// startMetricsServer mirrors the teacher's cmd/thor/httpserver convention:
// a dedicated listener serving only /metrics, torn down independently of
// the node's own event sink server.
func startMetricsServer(addr string) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen metrics addr %q", addr)
	}

	router := mux.NewRouter()
	router.PathPrefix("/metrics").Handler(promhttp.Handler())

	srv := &http.Server{Handler: router, ReadHeaderTimeout: time.Second, ReadTimeout: 5 * time.Second}
	var goes co.Goes
	goes.Go(func() { _ = srv.Serve(listener) })

	return "http://" + listener.Addr().String() + "/metrics", func() {
		srv.Close()
		goes.Wait()
	}, nil
}
