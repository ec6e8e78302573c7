package server

import (
	"bufio"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vsoc/db"
	"vsoc/logger"
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	registry *Registry
	log      *zap.Logger
}

type ServerConfig struct {
	Host          string
	Port          int
	DiscoveryPort int
	WriteTimeout  time.Duration
}

func New(database *db.DB, config *ServerConfig) *Server {
	return &Server{
		db:       database,
		config:   config,
		registry: NewRegistry(),
		log:      logger.L(),
	}
}

// Start binds the TCP listener and the UDP discovery socket, then serves
// connections until the listener fails. Bind failures are fatal to the
// caller; everything after that only tears down the affected connection.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)))
	if err != nil {
		return err
	}
	defer listener.Close()

	discovery, err := net.ListenPacket("udp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.DiscoveryPort)))
	if err != nil {
		return err
	}
	defer discovery.Close()
	go s.serveDiscovery(discovery)

	s.log.Info("server started",
		zap.Int("port", s.config.Port),
		zap.Int("discoveryPort", s.config.DiscoveryPort))

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	session := s.registry.Register(conn)
	s.log.Info("client connected",
		zap.String("session", session.ID),
		zap.String("remote", remoteAddr))

	// The reader carries partial lines across reads, so commands split over
	// TCP segment boundaries are reassembled instead of dropped.
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !strings.Contains(err.Error(), "use of closed network connection") {
				s.log.Warn("read failed",
					zap.String("session", session.ID),
					zap.String("remote", remoteAddr),
					zap.Error(err))
			}
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Credentials travel on REGISTER/LOGIN lines; keep them out of logs.
		if verb, _, _ := strings.Cut(line, " "); verb != "REGISTER" && verb != "LOGIN" {
			s.log.Debug("command received",
				zap.String("session", session.ID),
				zap.String("line", line))
		}

		s.dispatch(session, line)
	}

	if username := session.User(); username != "" {
		s.Broadcast(username+" has disconnected.\n", session)
		s.log.Info("client disconnected",
			zap.String("session", session.ID),
			zap.String("user", username),
			zap.String("remote", remoteAddr))
	} else {
		s.log.Info("client disconnected",
			zap.String("session", session.ID),
			zap.String("remote", remoteAddr))
	}
	s.registry.Remove(session)
}

// send writes one response or notice to a connection. Write errors only get
// logged; the reader side of the affected connection does the teardown.
func (s *Server) send(conn net.Conn, text string) {
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := conn.Write([]byte(text)); err != nil {
		s.log.Warn("write failed", zap.Error(err))
	}
}

// Broadcast sends the text to every registered session except the excluded
// one.
func (s *Server) Broadcast(text string, exclude *Session) {
	for _, session := range s.registry.Sessions() {
		if session == exclude {
			continue
		}
		s.send(session.Conn, text)
	}
}

// Shutdown notifies every connected client and closes their connections.
func (s *Server) Shutdown(reason string) {
	notice := "Server is shutting down"
	if reason != "" {
		notice += " (" + reason + ")"
	}
	notice += ".\n"

	for _, session := range s.registry.Sessions() {
		s.send(session.Conn, notice)
		session.Conn.Close()
		s.registry.Remove(session)
	}
}

// GetStats returns server statistics as a formatted string for the control
// socket.
func (s *Server) GetStats() string {
	connections, users := s.registry.Counts()
	sort.Strings(users)
	return "connections=" + strconv.Itoa(connections) + ",users=" + strings.Join(users, ";")
}
