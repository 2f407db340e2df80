package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHReply is the canned behavior for one command on the test SSH server.
type SSHReply struct {
	Output   string
	ExitCode int
	Delay    time.Duration
}

// SSHServer is an in-process SSH endpoint with password authentication and
// canned per-command replies. Unregistered commands exit 127.
type SSHServer struct {
	Addr     string
	User     string
	Password string

	mu      sync.Mutex
	replies map[string]SSHReply
	execLog []string

	listener net.Listener
	config   *ssh.ServerConfig
	wg       sync.WaitGroup
}

// StartSSHServer launches the server on a random loopback port and stops
// it via t.Cleanup.
func StartSSHServer(t *testing.T, user, password string) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("building host signer: %v", err)
	}

	s := &SSHServer{
		User:     user,
		Password: password,
		replies:  make(map[string]SSHReply),
	}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if conn.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong credentials for %q", conn.User())
		},
	}
	s.config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	s.listener = listener
	s.Addr = listener.Addr().String()

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Reply registers the output returned for an exact command string.
func (s *SSHServer) Reply(command, output string) {
	s.SetReply(command, SSHReply{Output: output})
}

// SetReply registers full reply behavior for a command.
func (s *SSHServer) SetReply(command string, reply SSHReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[command] = reply
}

// RestrictAlgorithms limits the server's offered key exchanges and MACs.
// Call before any client connects.
func (s *SSHServer) RestrictAlgorithms(kex, macs []string) {
	s.config.Config.KeyExchanges = kex
	s.config.Config.MACs = macs
}

// Commands returns the exec requests seen so far, in order.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execLog...)
}

// Close stops accepting and waits for active sessions to drain.
func (s *SSHServer) Close() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *SSHServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	serverConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer serverConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go s.handleSession(channel, requests)
	}
}

type execPayload struct {
	Command string
}

type exitPayload struct {
	Status uint32
}

// handleSession serves a single exec request then closes the channel,
// matching the one-command-per-session shape clients use.
func (s *SSHServer) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()

	for req := range requests {
		if req.Type != "exec" {
			req.Reply(false, nil)
			continue
		}
		var payload execPayload
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			continue
		}
		req.Reply(true, nil)

		s.mu.Lock()
		s.execLog = append(s.execLog, payload.Command)
		reply, ok := s.replies[payload.Command]
		s.mu.Unlock()

		if !ok {
			reply = SSHReply{ExitCode: 127}
		}
		if reply.Delay > 0 {
			time.Sleep(reply.Delay)
		}
		channel.Write([]byte(reply.Output))
		channel.SendRequest("exit-status", false, ssh.Marshal(exitPayload{Status: uint32(reply.ExitCode)}))
		return
	}
}
