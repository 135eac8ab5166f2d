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

package systemd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"syscall"

	systemd "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"

	"github.com/innogames/igvm/internal/log"
)

type SystemdConn struct {
	// go-systemd dbus connection
	conn *systemd.Conn

	// godbus dbus connection for poweroff inhibition
	login1conn *dbus.Conn

	// godbus dbus object for poweroff inhibition
	login1obj dbus.BusObject

	// channel for shutdown signal
	prepareForShutdownSignal chan *dbus.Signal

	// channel for shutdown goroutine
	shutdownCh chan bool

	// file descriptor for inhibition
	fd int
}

var systemdConn *SystemdConn

func dialBus() (*dbus.Conn, error) {
	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return nil, err
	}
	methods := []dbus.Auth{
		dbus.AuthExternal("0"),
		dbus.AuthExternal(strconv.Itoa(os.Getuid())),
		dbus.AuthAnonymous(),
	}
	if err = conn.Auth(methods); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err = conn.Hello(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// NewSystemd dials both the go-systemd unit-management connection and a
// separate raw dbus connection for login1 inhibition (go-systemd has no
// Inhibit API of its own), caching the result process-wide since igvmd
// only ever wants one.
func NewSystemd(ctx context.Context) (*SystemdConn, error) {
	if systemdConn != nil {
		return systemdConn, nil
	}

	log.FromContext(ctx).Info("connecting to systemd")
	conn, err := systemd.NewConnection(dialBus)
	if err != nil {
		return nil, err
	}

	// separate connection for systemd inhibition since go-systemd doesn't support it
	dbusConn, err := dialBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to dbus: %w", err)
	}

	systemdConn = &SystemdConn{
		conn:                     conn,
		login1conn:               dbusConn,
		login1obj:                dbusConn.Object("org.freedesktop.login1", "/org/freedesktop/login1"),
		prepareForShutdownSignal: make(chan *dbus.Signal, 1),
		shutdownCh:               make(chan bool),
		fd:                       -1,
	}
	return systemdConn, nil
}

// EnableShutdownInhibit blocks shutdown with a systemd delay-inhibitor
// lock and registers cb to run once login1 signals PrepareForShutdown,
// igvmd's hook for evacuating every VM on this hypervisor before the
// reboot is allowed to proceed.
func (s *SystemdConn) EnableShutdownInhibit(ctx context.Context, cb func(context.Context) error) error {
	if s.fd != -1 {
		return fmt.Errorf("shutdown inhibition already enabled")
	}

	logger := log.Log.WithName("systemd")
	logger.Info("enabling shutdown inhibition")

	// List inhibitors
	var inhibitors [][]any
	if err := s.login1obj.CallWithContext(
		ctx,
		"org.freedesktop.login1.Manager.ListInhibitors",
		0,
	).Store(&inhibitors); err != nil {
		return fmt.Errorf("failed to list inhibitors: %w", err)
	}
	logger.Info("existing inhibitors", "inhibitors", inhibitors)

	// create inhibitor
	if err := s.login1obj.CallWithContext(
		ctx,
		"org.freedesktop.login1.Manager.Inhibit",
		0,
		"sleep:shutdown",
		"igvmd",
		"evacuating VMs off this hypervisor before reboot",
		"delay",
	).Store(&s.fd); err != nil {
		return fmt.Errorf("error storing file descriptor: %w", err)
	}

	logger.Info("registering shutdown callback")
	go func() {
		for {
			select {
			case <-s.shutdownCh:
				logger.Info("stopping shutdown callback goroutine")
				return
			case signal, ok := <-s.prepareForShutdownSignal:
				if !ok {
					logger.Info("prepareForShutdownSignal channel closed")
					return
				}
				logger.Info("received shutdown signal", "signal", signal)

				if err := cb(context.Background()); err != nil {
					logger.Error(err, "failed to execute shutdown callback")
				}

				logger.Info("releasing shutdown inhibition")
				if err := s.DisableShutdownInhibit(); err != nil {
					logger.Error(err, "failed to release shutdown inhibition")
				}
				return
			}
		}
	}()

	// register signal handler
	if err := s.login1conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
		dbus.WithMatchObjectPath("/org/freedesktop/login1"),
		dbus.WithMatchMember("PrepareForShutdown"),
	); err != nil {
		return fmt.Errorf("failed to add match signal: %w", err)
	}
	s.login1conn.Signal(s.prepareForShutdownSignal)

	return nil
}

// DisableShutdownInhibit releases the systemd inhibition lock
func (s *SystemdConn) DisableShutdownInhibit() error {
	logger := log.Log.WithName("systemd")
	logger.Info("disabling shutdown inhibition")

	if s.fd == -1 {
		// nothing to do
		return nil
	}

	// remove signal handler
	s.login1conn.RemoveSignal(s.prepareForShutdownSignal)

	// stopping the shutdown callback goroutine; when called from that
	// goroutine itself there is no receiver, so the send is skipped
	select {
	case s.shutdownCh <- true:
	default:
	}

	err := syscall.Close(s.fd)
	if err != nil {
		return fmt.Errorf("failed to close file descriptor: %w", err)
	}
	s.fd = -1
	return nil
}

func (s *SystemdConn) Close() {
	s.conn.Close()
	_ = s.login1conn.Close()
}

func (s *SystemdConn) IsConnected() bool {
	return s.conn.Connected() && s.login1conn.Connected()
}
