/*
SPDX-FileCopyrightText: Copyright 2025 SAP SE or an SAP affiliate company and cobaltcore-dev contributors
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, LibVirtVersion 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package libvirt provides a per-hypervisor libvirt connection gateway.
//
// Unlike a node agent that owns a single local unix socket, igvm runs on an
// operator's workstation and drives many hypervisors, so each Connection
// opens its own transport: an SSH session to the hypervisor's libvirtd unix
// socket, onto which the libvirt RPC wire protocol is layered directly
// (there is no local qemu+ssh:// URI support in go-libvirt itself).
package libvirt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	golibvirt "github.com/digitalocean/go-libvirt"
	"golang.org/x/crypto/ssh"

	"github.com/innogames/igvm/internal/libvirt/capabilities"
	"github.com/innogames/igvm/internal/libvirt/domcapabilities"
	"github.com/innogames/igvm/internal/libvirt/dominfo"
	"github.com/innogames/igvm/internal/log"
	"github.com/innogames/igvm/internal/transport"
)

// RemoteSocket is the libvirtd unix socket path used on every hypervisor,
// matching the default compiled into libvirtd.
const RemoteSocket = "/var/run/libvirt/libvirt-sock"

// Connection is a lazily established libvirt RPC connection to a single
// hypervisor, reached over SSH. It reconnects and retries an operation
// exactly once if libvirt's close callback fires mid-call, mirroring a
// node agent's own reconnect-and-retry behavior but scoped to one
// hypervisor instead of a permanently resident local socket.
type Connection struct {
	Host string
	User string

	mu      sync.Mutex
	ssh     *ssh.Client
	session *ssh.Session
	virt    *golibvirt.Libvirt
	version string

	domainInfoClient         dominfo.Client
	domainCapabilitiesClient domcapabilities.Client
	capabilitiesClient       capabilities.Client
}

// NewConnection returns a Connection for host, authenticating over SSH as
// user. The underlying libvirt RPC session is not established until the
// first call that needs it.
func NewConnection(host, user string) *Connection {
	return &Connection{
		Host:                     host,
		User:                     user,
		domainInfoClient:         dominfo.NewClient(),
		domainCapabilitiesClient: domcapabilities.NewClient(),
		capabilitiesClient:       capabilities.NewClient(),
	}
}

// connect establishes the SSH tunnel and libvirt RPC handshake if not
// already connected. Callers must hold c.mu.
func (c *Connection) connect(ctx context.Context) error {
	if c.virt != nil && c.virt.IsConnected() {
		return nil
	}

	cfg, err := transport.AgentClientConfig(c.User)
	if err != nil {
		return fmt.Errorf("libvirt: %w", err)
	}
	sshClient, err := ssh.Dial("tcp", c.Host+":22", cfg)
	if err != nil {
		return fmt.Errorf("libvirt: dial %s: %w", c.Host, err)
	}
	session, err := sshClient.NewSession()
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("libvirt: new session on %s: %w", c.Host, err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		sshClient.Close()
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		sshClient.Close()
		return err
	}
	// nc tunnels the raw libvirt RPC stream over the SSH session's
	// stdio without requiring a remote shell to understand anything
	// about libvirt itself.
	if err := session.Start(fmt.Sprintf("nc -q0 -U %s", RemoteSocket)); err != nil {
		session.Close()
		sshClient.Close()
		return fmt.Errorf("libvirt: start tunnel on %s: %w", c.Host, err)
	}

	virt := golibvirt.New(&sshStream{r: stdout, w: stdin})
	if err := virt.Connect(); err != nil {
		session.Close()
		sshClient.Close()
		return fmt.Errorf("libvirt: handshake with %s: %w", c.Host, err)
	}

	if version, err := virt.ConnectGetVersion(); err != nil {
		log.Log.Info("unable to fetch libvirt version", "host", c.Host, "error", err.Error())
	} else {
		major, minor, release := version/1000000, (version/1000)%1000, version%1000
		c.version = fmt.Sprintf("%d.%d.%d", major, minor, release)
	}

	c.ssh = sshClient
	c.session = session
	c.virt = virt
	return nil
}

// Close tears down the libvirt RPC handshake and the underlying SSH
// session.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	if c.virt != nil {
		if err := c.virt.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.session != nil {
		c.session.Close()
	}
	if c.ssh != nil {
		if err := c.ssh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.virt, c.session, c.ssh = nil, nil, nil
	return errors.Join(errs...)
}

// withRetry runs op against the connected libvirt handle, reconnecting
// and retrying exactly once if the connection was lost.
func (c *Connection) withRetry(ctx context.Context, op func(*golibvirt.Libvirt) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return err
	}
	err := op(c.virt)
	if err == nil {
		return nil
	}
	if c.virt.IsConnected() {
		// The call failed for a reason unrelated to connectivity.
		return err
	}

	log.Log.Info("libvirt connection lost, reconnecting", "host", c.Host)
	c.virt, c.session, c.ssh = nil, nil, nil
	if cerr := c.connect(ctx); cerr != nil {
		return fmt.Errorf("libvirt: reconnect to %s: %w", c.Host, cerr)
	}
	return op(c.virt)
}

// Version returns the libvirt daemon version of the connected host,
// populated on first successful connect.
func (c *Connection) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Domains lists every domain on the host, active and inactive.
func (c *Connection) Domains(ctx context.Context) ([]dominfo.DomainInfo, error) {
	var out []dominfo.DomainInfo
	err := c.withRetry(ctx, func(virt *golibvirt.Libvirt) error {
		infos, err := c.domainInfoClient.Get(virt)
		if err != nil {
			return err
		}
		out = infos
		return nil
	})
	return out, err
}

// Capabilities returns the host's libvirt capabilities.
func (c *Connection) Capabilities(ctx context.Context) (capabilities.Status, error) {
	var out capabilities.Status
	err := c.withRetry(ctx, func(virt *golibvirt.Libvirt) error {
		status, err := c.capabilitiesClient.Get(virt)
		if err != nil {
			return err
		}
		out = status
		return nil
	})
	return out, err
}

// DomainCapabilities returns the host's libvirt domain capabilities.
func (c *Connection) DomainCapabilities(ctx context.Context) (domcapabilities.DomainCapabilities, error) {
	var out domcapabilities.DomainCapabilities
	err := c.withRetry(ctx, func(virt *golibvirt.Libvirt) error {
		caps, err := c.domainCapabilitiesClient.Get(virt)
		if err != nil {
			return err
		}
		out = caps
		return nil
	})
	return out, err
}

// Raw exposes the underlying *golibvirt.Libvirt handle for callers that
// need operations this gateway does not itself wrap (domain define,
// migrate, job stats). It connects if necessary.
func (c *Connection) Raw(ctx context.Context) (*golibvirt.Libvirt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c.virt, nil
}

// sshStream adapts an ssh.Session's stdio pipes into the io.ReadWriteCloser
// go-libvirt's New constructor expects as its transport.
type sshStream struct {
	r interface{ Read([]byte) (int, error) }
	w interface {
		Write([]byte) (int, error)
		Close() error
	}
}

func (s *sshStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *sshStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *sshStream) Close() error                { return s.w.Close() }
