/*
SPDX-FileCopyrightText: Copyright 2024 SAP SE or an SAP affiliate company and cobaltcore-dev contributors
SPDX-License-Identifier: Apache-2.0

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

// Command igvmd is the resident per-hypervisor housekeeping daemon: it
// inhibits shutdown until every VM on this host has been evacuated
// elsewhere, reaps locks abandoned by a dead igvm invocation, deletes VMs
// that have sat in inventory state "retired" past their grace period, and
// exposes this host's libvirt domain stats on /metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/innogames/igvm/internal/cliapp"
	"github.com/innogames/igvm/internal/housekeeping"
	"github.com/innogames/igvm/internal/libvirt"
	"github.com/innogames/igvm/internal/log"
	"github.com/innogames/igvm/internal/metrics"
	"github.com/innogames/igvm/internal/systemd"
)

// reaperInterval is how often the retired-VM and abandoned-lock reapers
// sweep inventory between shutdown events.
const reaperInterval = 5 * time.Minute

// retiredStorePath is where ReapRetired persists first-seen timestamps
// for VMs sitting in state "retired", surviving igvmd restarts.
const retiredStorePath = "/var/lib/igvmd/retired_vms.json"

func main() {
	cfgPath := flag.String("config", "/etc/igvm/settings.yaml", "path to the YAML settings file")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	listenAddr := flag.String("listen", ":9476", "address to serve /metrics on")
	dev := flag.Bool("dev", false, "use the in-process systemd emulator instead of a real dbus connection")
	flag.Parse()

	log.Setup(*verbose)

	if err := run(*cfgPath, *listenAddr, *dev); err != nil {
		fmt.Fprintln(os.Stderr, "igvmd:", err)
		os.Exit(1)
	}
}

func run(cfgPath, listenAddr string, dev bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := cliapp.New(cfgPath)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("determine hostname: %w", err)
	}
	self, err := app.Hypervisor(ctx, hostname)
	if err != nil {
		return fmt.Errorf("look up own hypervisor record for %s: %w", hostname, err)
	}

	srv := &http.Server{Addr: listenAddr, Handler: metricsHandler(hostname)}
	go func() {
		log.Log.Info("serving metrics", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Log.Error(err, "metrics server stopped")
		}
	}()

	sd, err := dialSystemd(ctx, dev)
	if err != nil {
		return fmt.Errorf("connect to systemd: %w", err)
	}
	defer sd.Close()

	if err := sd.EnableShutdownInhibit(ctx, func(ctx context.Context) error {
		log.Log.Info("shutdown requested, evacuating VMs", "hypervisor", hostname)
		return housekeeping.EvictAll(ctx, app, self)
	}); err != nil {
		return fmt.Errorf("enable shutdown inhibit: %w", err)
	}

	store := &housekeeping.RetiredStore{Path: retiredStorePath}
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	log.Log.Info("igvmd started", "hypervisor", hostname, "reap_interval", reaperInterval)
	for {
		select {
		case <-ctx.Done():
			log.Log.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
			_ = sd.DisableShutdownInhibit()
			return nil
		case now := <-ticker.C:
			if err := housekeeping.ReapAbandonedLocks(ctx, app, now); err != nil {
				log.Log.Error(err, "lock reaper failed")
			}
			if err := housekeeping.ReapRetired(ctx, app, store, app.Config.RetiredVMGracePeriod, now); err != nil {
				log.Log.Error(err, "retired-VM reaper failed")
			}
		}
	}
}

// dialSystemd connects to the real systemd/login1 D-Bus APIs, or returns
// an in-process emulator when dev is set so igvmd can be exercised off a
// workstation with no systemd/dbus available.
func dialSystemd(ctx context.Context, dev bool) (systemd.Interface, error) {
	if dev {
		return systemd.NewSystemdEmulator(ctx), nil
	}
	return systemd.NewSystemd(ctx)
}

// metricsHandler wires a single-hypervisor Collector (this host only;
// igvmd has no business scraping anyone else's libvirtd) into a fresh
// registry and returns its promhttp handler.
func metricsHandler(hostname string) http.Handler {
	registry := prometheus.NewRegistry()
	conns := map[string]*libvirt.Connection{
		hostname: libvirt.NewConnection(hostname, "root"),
	}
	registry.MustRegister(metrics.NewCollector(conns))
	metrics.RegisterFleetMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
