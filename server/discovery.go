package server

import (
	"net"
	"strings"

	"go.uber.org/zap"

	"vsoc/protocol"
)

// serveDiscovery answers WHO_IS_SERVER datagrams with SERVER_HERE so clients
// can locate the server on the local network before opening the TCP
// connection. Stateless: no session is involved and other payloads are
// ignored.
func (s *Server) serveDiscovery(pc net.PacketConn) {
	buf := make([]byte, 128)

	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				s.log.Warn("discovery read failed", zap.Error(err))
			}
			return
		}

		if strings.TrimSpace(string(buf[:n])) != protocol.DiscoveryQuery {
			continue
		}

		if _, err := pc.WriteTo([]byte(protocol.DiscoveryResponse), addr); err != nil {
			s.log.Warn("discovery reply failed",
				zap.String("remote", addr.String()),
				zap.Error(err))
		}
	}
}
