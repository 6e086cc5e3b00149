/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Server serves Stats over http:
//
//	/counters           all counters as JSON
//	/counters/{prefix}  counters starting with prefix
//	/metrics            Prometheus exposition
type Server struct {
	*Stats
	sys      procSampler
	registry *prometheus.Registry
	router   chi.Router
}

// NewServer wraps s into a monitoring server
func NewServer(s *Stats) *Server {
	srv := &Server{
		Stats:    s,
		sys:      procSampler{start: time.Now()},
		registry: prometheus.NewRegistry(),
	}
	srv.registry.MustRegister(&collector{stats: s})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Get("/", srv.handleCounters)
	r.Get("/counters", srv.handleCounters)
	r.Get("/counters/{prefix}", srv.handleCounters)
	r.Handle("/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	srv.router = r
	return srv
}

// Handler returns the http handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// CollectSysStats stores process and runtime metrics as counters
func (s *Server) CollectSysStats(interval time.Duration) error {
	return s.sys.sample(s.SetCounter, interval)
}

// Start serves on the port until ctx is done, collecting system metrics every interval
func (s *Server) Start(ctx context.Context, port int, interval time.Duration) error {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.CollectSysStats(interval); err != nil {
					log.Warningf("failed to get system metrics %s", err)
				}
			}
		}
	}()

	hs := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	}()
	log.Infof("Starting http json server on %s", hs.Addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	counters := s.GetCounters()
	if prefix := chi.URLParam(r, "prefix"); prefix != "" {
		for k := range counters {
			if !strings.HasPrefix(k, prefix) {
				delete(counters, k)
			}
		}
	}
	js, err := json.Marshal(counters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(js); err != nil {
		log.Errorf("Failed to reply: %v", err)
	}
}

// collector exposes every counter as a gauge. The set of counters isn't known
// upfront, so it is an unchecked collector.
type collector struct {
	stats *Stats
}

func (c *collector) Describe(chan<- *prometheus.Desc) {}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for k, v := range c.stats.GetCounters() {
		m, err := prometheus.NewConstMetric(prometheus.NewDesc(flattenKey(k), k, nil, nil), prometheus.GaugeValue, float64(v))
		if err != nil {
			log.Debugf("skipping metric %s: %v", k, err)
			continue
		}
		ch <- m
	}
}

func flattenKey(key string) string {
	return strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_").Replace(key)
}
