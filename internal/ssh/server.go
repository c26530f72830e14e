// Package ssh is the SSH front end: it authenticates users against the
// directory, turns tcpip-forward requests into registry entries, serves the
// interactive TUI on session channels, and opens direct-tcpip channels back
// through the client when the HTTP front end needs to reach a tunnel.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"

	"siranga/internal/config"
	"siranga/internal/logger"
	"siranga/internal/registry"
)

// Directory resolves a username to the public keys it may log in with
type Directory interface {
	LookupKeys(username string) ([]ssh.PublicKey, error)
}

type Server struct {
	config    *config.Config
	registry  *registry.Registry
	directory Directory
	sshConfig *ssh.ServerConfig
}

func NewServer(cfg *config.Config, reg *registry.Registry, dir Directory, hostKey ssh.Signer) *Server {
	s := &Server{
		config:    cfg,
		registry:  reg,
		directory: dir,
	}

	// Only publickey is wired up. Password and keyboard-interactive fail
	// before the directory is ever consulted because no callback exists
	// for them.
	s.sshConfig = &ssh.ServerConfig{
		PublicKeyCallback: s.authenticatePublicKey,
		ServerVersion:     "SSH-2.0-siranga",
	}
	s.sshConfig.AddHostKey(hostKey)

	return s
}

// Start accepts SSH connections until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.SSHPort))
	if err != nil {
		return fmt.Errorf("failed to listen on SSH port: %w", err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Debugf("Failed to accept SSH connection: %v", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// authenticatePublicKey accepts a key only if it exactly matches one of the
// keys the directory holds for the offered username. Unknown users, users
// without keys, and mismatches all produce the same error so the client
// learns nothing about which part failed.
func (s *Server) authenticatePublicKey(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
	keys, err := s.directory.LookupKeys(c.User())
	if err != nil {
		logger.Warnf("Directory lookup failed for user %s from %s: %v", c.User(), c.RemoteAddr(), err)
		return nil, fmt.Errorf("publickey rejected for %q", c.User())
	}

	offered := pubKey.Marshal()
	for _, key := range keys {
		if bytes.Equal(offered, key.Marshal()) {
			logger.Infof("User %s authenticated from %s", c.User(), c.RemoteAddr())
			return &ssh.Permissions{}, nil
		}
	}

	logger.Debugf("No matching key for user %s from %s", c.User(), c.RemoteAddr())
	return nil, fmt.Errorf("publickey rejected for %q", c.User())
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.sshConfig)
	if err != nil {
		logger.Debugf("SSH handshake from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer sshConn.Close()

	logger.Infof("SSH connection from %s (%s)", sshConn.RemoteAddr(), sshConn.User())

	sess := newSession(s, sshConn)
	go sess.handleGlobalRequests(reqs)
	go sess.handleChannels(chans)

	// Blocks for the lifetime of the transport; ssh -N clients never open
	// a channel so this wait is what keeps the connection alive.
	err = sshConn.Wait()
	if err != nil {
		logger.Debugf("SSH connection from %s closed: %v", sshConn.RemoteAddr(), err)
	}

	sess.teardown()
}
