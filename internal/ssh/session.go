package ssh

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"siranga/internal/common"
	"siranga/internal/logger"
	"siranga/internal/registry"
	"siranga/internal/tui"
)

// tcpipForwardMsg is the payload of tcpip-forward and cancel-tcpip-forward
// global requests (RFC 4254 section 7.1)
type tcpipForwardMsg struct {
	BindAddr string
	BindPort uint32
}

// tcpipForwardReplyMsg acknowledges the port a forward was accepted on
type tcpipForwardReplyMsg struct {
	Port uint32
}

// directTCPIPMsg is the payload of a direct-tcpip channel open
// (RFC 4254 section 7.2)
type directTCPIPMsg struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

// ptyRequestMsg is the payload of a pty-req channel request
// (RFC 4254 section 6.2)
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	WidthPx  uint32
	HeightPx uint32
	Modelist string
}

// windowChangeMsg is the payload of a window-change request
type windowChangeMsg struct {
	Columns  uint32
	Rows     uint32
	WidthPx  uint32
	HeightPx uint32
}

// execMsg carries the command line of an exec channel request
type execMsg struct {
	Command string
}

// session is the server-side state of one authenticated SSH connection. It
// owns the tunnels registered over it and implements registry.Dialer by
// opening direct-tcpip channels back through the client.
type session struct {
	server *Server
	conn   *ssh.ServerConn
	user   string

	mu      sync.Mutex
	tunnels []*registry.Tunnel
	tuis    []*tui.TUI
}

func newSession(s *Server, conn *ssh.ServerConn) *session {
	return &session{
		server: s,
		conn:   conn,
		user:   conn.User(),
	}
}

// OpenTunnel opens a direct-tcpip channel to the client-side service behind
// remotePort. Called by the HTTP front end through the registry view.
func (s *session) OpenTunnel(remotePort uint32) (io.ReadWriteCloser, error) {
	payload := ssh.Marshal(&directTCPIPMsg{
		DestAddr: "localhost",
		DestPort: remotePort,
		OrigAddr: "127.0.0.1",
		OrigPort: 0,
	})

	channel, reqs, err := s.conn.OpenChannel("direct-tcpip", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to open direct-tcpip channel: %w", err)
	}
	go ssh.DiscardRequests(reqs)

	return channel, nil
}

func (s *session) handleGlobalRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			s.handleTunnelRequest(req)
		case "cancel-tcpip-forward":
			s.handleCancelRequest(req)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// handleTunnelRequest registers a logical forward. No port is bound: the
// requested port only identifies which forward to use when the HTTP front
// end opens a channel, so the reply always confirms the port the client
// asked for.
func (s *session) handleTunnelRequest(req *ssh.Request) {
	var msg tcpipForwardMsg
	if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
		logger.Debugf("Invalid tcpip-forward payload from %s: %v", s.conn.RemoteAddr(), err)
		req.Reply(false, nil)
		return
	}

	requestedName := requestedNameFromBind(msg.BindAddr)
	tun, err := s.server.registry.Register(s.user, s, requestedName, msg.BindPort)
	if err != nil {
		logger.Errorf("Failed to register tunnel for user %s from %s: %v", s.user, s.conn.RemoteAddr(), err)
		req.Reply(false, nil)
		return
	}

	s.mu.Lock()
	s.tunnels = append(s.tunnels, tun)
	s.mu.Unlock()

	urls := common.NewURLBuilder(s.server.config.TunnelDomain)
	logger.Infof("Tunnel %s registered for user %s (port %d): %s",
		tun.Name(), s.user, msg.BindPort, urls.BuildHTTPURL(tun.Name()))

	if req.WantReply {
		req.Reply(true, ssh.Marshal(&tcpipForwardReplyMsg{Port: msg.BindPort}))
	}
}

// handleCancelRequest deregisters this session's forward with the matching
// port. Ports are only unique within a session, so the search never leaves
// the session's own tunnels.
func (s *session) handleCancelRequest(req *ssh.Request) {
	var msg tcpipForwardMsg
	if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
		logger.Debugf("Invalid cancel-tcpip-forward payload from %s: %v", s.conn.RemoteAddr(), err)
		req.Reply(false, nil)
		return
	}

	var cancelled *registry.Tunnel
	s.mu.Lock()
	for i, tun := range s.tunnels {
		if tun.RemotePort() == msg.BindPort {
			cancelled = tun
			s.tunnels = append(s.tunnels[:i], s.tunnels[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if cancelled == nil {
		logger.Debugf("No forward on port %d to cancel for user %s", msg.BindPort, s.user)
		req.Reply(false, nil)
		return
	}

	s.server.registry.Deregister(cancelled)
	logger.Infof("Tunnel %s cancelled by user %s", cancelled.Name(), s.user)
	req.Reply(true, nil)
}

func (s *session) handleChannels(chans <-chan ssh.NewChannel) {
	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			channel, requests, err := newChannel.Accept()
			if err != nil {
				logger.Debugf("Could not accept session channel: %v", err)
				continue
			}
			go s.handleSessionChannel(channel, requests)
		default:
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

// handleSessionChannel drives one interactive session: pty-req records the
// terminal size, shell starts the TUI, exec applies its flags and starts the
// TUI only when a pty was requested (otherwise it closes the channel), and
// window-change resizes the TUI.
func (s *session) handleSessionChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	var (
		view          *tui.TUI
		width, height = 80, 24
		hasPty        bool
	)

	startTUI := func() {
		if view != nil {
			return
		}
		view = tui.New(s.user, s.server.registry, s.server.config, channel)
		view.Resize(width, height)

		s.mu.Lock()
		s.tuis = append(s.tuis, view)
		s.mu.Unlock()

		go func() {
			view.Run()
			// Quitting the TUI closes the channel; tunnels stay up until
			// the transport goes away.
			channel.Close()
		}()

		go func() {
			buf := make([]byte, 256)
			for {
				n, err := channel.Read(buf)
				if err != nil {
					view.Close()
					return
				}
				view.Input(buf[:n])
			}
		}()
	}

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var msg ptyRequestMsg
			err := ssh.Unmarshal(req.Payload, &msg)
			if err == nil {
				width, height = int(msg.Columns), int(msg.Rows)
				hasPty = true
			}
			req.Reply(err == nil, nil)
		case "window-change":
			var msg windowChangeMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err == nil && view != nil {
				view.Resize(int(msg.Columns), int(msg.Rows))
			}
		case "shell":
			req.Reply(true, nil)
			startTUI()
		case "exec":
			var msg execMsg
			if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			if s.applyExecFlags(channel, msg.Command) {
				if hasPty {
					startTUI()
				} else {
					channel.Close()
				}
			} else {
				channel.Close()
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

const execUsage = "usage: [--public | --protected]\r\n" +
	"  --public     make this session's tunnels public\r\n" +
	"  --protected  make this session's tunnels protected\r\n"

// applyExecFlags interprets the ssh command line (`ssh host -- --public`).
// Returns false when the command was not understood and the channel should
// close after the printed usage.
func (s *session) applyExecFlags(channel ssh.Channel, command string) bool {
	var visibility registry.Visibility
	switch strings.TrimSpace(command) {
	case "":
		return true
	case "--public":
		visibility = registry.Public
	case "--protected":
		visibility = registry.Protected
	default:
		fmt.Fprintf(channel, "unknown command: %s\r\n%s", command, execUsage)
		return false
	}

	s.mu.Lock()
	tunnels := make([]*registry.Tunnel, len(s.tunnels))
	copy(tunnels, s.tunnels)
	s.mu.Unlock()

	for _, tun := range tunnels {
		s.server.registry.SetVisibility(tun, visibility)
	}
	logger.Debugf("User %s set %d tunnels to %s via exec", s.user, len(tunnels), visibility)

	return true
}

// teardown runs when the transport closes: every tunnel owned by the
// session disappears from the registry and the TUIs stop rendering.
// In-flight direct-tcpip channels die with the transport on their own.
func (s *session) teardown() {
	s.mu.Lock()
	tunnels := s.tunnels
	tuis := s.tuis
	s.tunnels = nil
	s.tuis = nil
	s.mu.Unlock()

	for _, view := range tuis {
		view.Close()
	}
	for _, tun := range tunnels {
		name := tun.Name()
		s.server.registry.Deregister(tun)
		logger.Infof("Tunnel %s removed after disconnect of %s", name, s.user)
	}
}

// requestedNameFromBind derives the tunnel name from the forward's bind
// address, following the convention that `ssh -R name:port:host:port` puts
// the name where a bind address would go. Addresses that are really
// addresses mean the client wants any name.
func requestedNameFromBind(bindAddr string) string {
	switch bindAddr {
	case "", "localhost", "0.0.0.0", "::", "*":
		return ""
	}
	if net.ParseIP(bindAddr) != nil {
		return ""
	}
	return bindAddr
}
