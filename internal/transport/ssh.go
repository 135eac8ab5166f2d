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

package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/innogames/igvm/internal/log"
	"github.com/innogames/igvm/internal/retry"
)

// SSHExecutor runs commands over SSH, authenticating via the invoking
// user's ssh-agent (SSH_AUTH_SOCK) so that agent forwarding is available
// for hypervisor-to-hypervisor commands, as the invoking user's own SSH
// config intends.
type SSHExecutor struct {
	User string

	mu    sync.Mutex
	conns map[string]*ssh.Client
}

// NewSSHExecutor returns an executor connecting as user, reusing one
// connection per host for the lifetime of the process.
func NewSSHExecutor(user string) *SSHExecutor {
	return &SSHExecutor{User: user, conns: map[string]*ssh.Client{}}
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	return AgentClientConfig(e.User)
}

// AgentClientConfig builds an ssh.ClientConfig authenticating as user via
// the invoking process's ssh-agent, for any caller that needs a raw
// *ssh.Client rather than the Executor abstraction (e.g. the libvirt
// package's qemu+ssh:// transport tunnel).
func AgentClientConfig(user string) (*ssh.ClientConfig, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("transport: SSH_AUTH_SOCK not set, agent forwarding required")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("transport: dial ssh-agent: %w", err)
	}
	agentClient := agent.NewClient(conn)

	return &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeysCallback(agentClient.Signers),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}, nil
}

func (e *SSHExecutor) dial(ctx context.Context, host string) (*ssh.Client, error) {
	e.mu.Lock()
	if c, ok := e.conns[host]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	cfg, err := e.clientConfig()
	if err != nil {
		return nil, err
	}

	var client *ssh.Client
	dialErr := retry.Do(ctx, retry.DefaultOptions(), func(ctx context.Context) error {
		c, err := ssh.Dial("tcp", net.JoinHostPort(host, "22"), cfg)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if dialErr != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", host, dialErr)
	}

	e.mu.Lock()
	e.conns[host] = client
	e.mu.Unlock()
	return client, nil
}

func (e *SSHExecutor) Run(ctx context.Context, host, command string, opts RunOptions) (string, error) {
	client, err := e.dial(ctx, host)
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("transport: new session on %s: %w", host, err)
	}
	defer session.Close()

	shell := opts.Shell
	if shell == "" {
		shell = "/bin/bash -c"
	}
	full := command
	if opts.Sudo {
		full = "sudo -n " + full
	}

	if !opts.Silent {
		log.Log.Info("running remote command", "host", host, "command", full)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(fmt.Sprintf("%s %s", shell, shellQuote(full)))
	if err != nil {
		exitErr, ok := err.(*ssh.ExitError)
		status := -1
		if ok {
			status = exitErr.ExitStatus()
		}
		cmdErr := &RemoteCommandError{Host: host, Command: full, ExitStatus: status, Stderr: stderr.String()}
		if opts.WarnOnly {
			log.Log.Info("remote command failed, ignoring (warn_only)", "error", cmdErr.Error())
			return stdout.String(), nil
		}
		return stdout.String(), cmdErr
	}
	return stdout.String(), nil
}

func (e *SSHExecutor) Put(ctx context.Context, host, remotePath string, contents []byte, mode uint32) error {
	encoded := fmt.Sprintf("base64 -d > %s && chmod %o %s", shellQuote(remotePath), mode, shellQuote(remotePath))
	client, err := e.dial(ctx, host)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("transport: new session on %s: %w", host, err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	if err := session.Start("/bin/bash -c " + shellQuote(encoded)); err != nil {
		return fmt.Errorf("transport: put to %s:%s: %w", host, remotePath, err)
	}
	if _, err := stdin.Write(b64encode(contents)); err != nil {
		return err
	}
	if err := stdin.Close(); err != nil {
		return err
	}
	if err := session.Wait(); err != nil {
		return fmt.Errorf("transport: put to %s:%s: %w: %s", host, remotePath, err, stderr.String())
	}
	return nil
}

func (e *SSHExecutor) Get(ctx context.Context, host, remotePath string) ([]byte, error) {
	out, err := e.Run(ctx, host, fmt.Sprintf("base64 %s", shellQuote(remotePath)), RunOptions{Silent: true})
	if err != nil {
		return nil, fmt.Errorf("transport: get %s:%s: %w", host, remotePath, err)
	}
	return b64decode(out)
}
