// Package driver opens SSH sessions to devices and runs command batches.
// The driver is vendor-agnostic; per-platform command tables live in
// platform.go. It emits no logs of its own; callers own all logging.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/netraven-io/netraven/pkg/config"
	"github.com/netraven-io/netraven/pkg/model"
)

// DefaultCommandTimeout caps commands whose platform table gives no timeout.
const DefaultCommandTimeout = 60 * time.Second

// Command is one instruction to run on a device.
type Command struct {
	Name    string        // key for the output map
	Text    string        // exact string sent to the device
	Timeout time.Duration // per-command cap; zero uses DefaultCommandTimeout
}

// RunResult carries per-command outputs plus the verbatim session
// transcript. On failure the transcript still holds everything collected
// up to and including the failing command.
type RunResult struct {
	Outputs    map[string]string
	SessionLog string
}

// Driver runs a command batch against one device with one credential.
type Driver interface {
	RunCommands(ctx context.Context, device *model.DeviceWithCredential, commands []Command) (*RunResult, error)
}

// SSHDriver drives devices over SSH with password authentication. Sessions
// are opened per command; the TCP connection is shared across the batch.
type SSHDriver struct {
	connectTimeout time.Duration
	attempts       int
	backoff        time.Duration
}

// NewSSHDriver builds a driver from the worker configuration
func NewSSHDriver() *SSHDriver {
	return &SSHDriver{
		connectTimeout: config.GetConnectionTimeout(),
		attempts:       config.GetDriverRetryAttempts(),
		backoff:        config.GetDriverRetryBackoff(),
	}
}

// RunCommands dials the device and executes the commands in order. The
// returned RunResult is non-nil even on error so callers can log partial
// transcripts.
func (d *SSHDriver) RunCommands(ctx context.Context, device *model.DeviceWithCredential, commands []Command) (*RunResult, error) {
	result := &RunResult{Outputs: make(map[string]string, len(commands))}

	client, err := d.connect(ctx, device)
	if err != nil {
		return result, err
	}
	defer client.Close()

	var transcript strings.Builder
	for _, cmd := range commands {
		transcript.WriteString(">>> " + cmd.Text + "\n")
		output, err := d.runCommand(ctx, client, device, cmd)
		if output != "" {
			transcript.WriteString(output)
			if !strings.HasSuffix(output, "\n") {
				transcript.WriteString("\n")
			}
		}
		if err != nil {
			transcript.WriteString(fmt.Sprintf("!!! %v\n", err))
			result.SessionLog = transcript.String()
			return result, err
		}
		result.Outputs[cmd.Name] = output
	}
	result.SessionLog = transcript.String()
	return result, nil
}

func (d *SSHDriver) connect(ctx context.Context, device *model.DeviceWithCredential) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User: device.Credential.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(device.Password),
		},
		// Device host keys are not enrolled anywhere yet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.connectTimeout,
	}
	if config.IsLegacyKexAllowed() {
		supported := ssh.SupportedAlgorithms()
		cfg.Config = ssh.Config{
			KeyExchanges: append(supported.KeyExchanges, config.GetLegacyKexAlgorithms()...),
			MACs:         append(supported.MACs, config.GetLegacyMACs()...),
		}
	}

	addr := device.Device.Addr()
	attempts := d.attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &Error{Kind: ErrTimeout, Device: addr, Cause: ctx.Err()}
			case <-time.After(d.backoff):
			}
		}
		client, err := d.dial(ctx, addr, cfg)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if !Retriable(err) {
			break
		}
	}
	return nil, lastErr
}

func (d *SSHDriver) dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: d.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(addr, err)
	}
	// Deadline covers the handshake, then clears for command traffic.
	if d.connectTimeout > 0 {
		conn.SetDeadline(time.Now().Add(d.connectTimeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(addr, err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// runCommand executes one command in a fresh session, bounded by the
// command timeout and the caller's context.
func (d *SSHDriver) runCommand(ctx context.Context, client *ssh.Client, device *model.DeviceWithCredential, cmd Command) (string, error) {
	addr := device.Device.Addr()
	session, err := client.NewSession()
	if err != nil {
		return "", &Error{Kind: ErrSession, Device: addr, Command: cmd.Text, Cause: err}
	}
	defer session.Close()

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	type reply struct {
		output []byte
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		output, err := session.CombinedOutput(cmd.Text)
		done <- reply{output, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		if r.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(r.err, &exitErr) {
				return string(r.output), &Error{Kind: ErrCommand, Device: addr, Command: cmd.Text,
					Cause: fmt.Errorf("exit status %d", exitErr.ExitStatus())}
			}
			return string(r.output), &Error{Kind: ErrUnreachable, Device: addr, Command: cmd.Text, Cause: r.err}
		}
		return string(r.output), nil
	case <-timer.C:
		session.Close()
		return "", &Error{Kind: ErrTimeout, Device: addr, Command: cmd.Text}
	case <-ctx.Done():
		session.Close()
		return "", &Error{Kind: ErrTimeout, Device: addr, Command: cmd.Text, Cause: ctx.Err()}
	}
}

func classifyDialError(device string, err error) error {
	var nerr net.Error
	if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrTimeout, Device: device, Cause: err}
	}
	return &Error{Kind: ErrUnreachable, Device: device, Cause: err}
}

func classifyHandshakeError(device string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return &Error{Kind: ErrAuth, Device: device, Cause: err}
	case strings.Contains(msg, "no common algorithm"):
		return &Error{Kind: ErrSession, Device: device, Cause: err}
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return &Error{Kind: ErrTimeout, Device: device, Cause: err}
		}
		return &Error{Kind: ErrUnreachable, Device: device, Cause: err}
	}
}
