package transport

import (
	"net"

	"github.com/opengda/scanning-go/pkg/log"
)

// Pipe returns two connected in-memory Conns. The first plays the client
// role in traces, the second the server role.
func Pipe(cfg Config) (client, server Conn) {
	a, b := net.Pipe()
	return NewStreamConn(a, log.RoleClient, cfg), NewStreamConn(b, log.RoleServer, cfg)
}
