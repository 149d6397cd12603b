package sender

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"audioring/internal/pipeline"
)

type sendUDPStage struct {
	sender *Sender
}

func (s *Sender) SendUDPStage() pipeline.TypedStage[[]byte, any] {
	return &sendUDPStage{sender: s}
}

func (r *sendUDPStage) Process(ctx context.Context, in <-chan []byte) (<-chan any, error) {
	return r.sender.sendUDP(ctx, in)
}

// sendUDP writes every packet to each peer. The returned channel carries
// nothing and closes once the input is drained.
func (s *Sender) sendUDP(ctx context.Context, in <-chan []byte) (<-chan any, error) {
	var d net.Dialer
	conns := make([]net.Conn, 0, len(s.cfg.Peers))
	for _, peer := range s.cfg.Peers {
		conn, err := d.DialContext(ctx, "udp", net.JoinHostPort(peer, s.Port))
		if err != nil {
			var result error = fmt.Errorf("UDP dial error to %s: %w", peer, err)
			for _, c := range conns {
				if cerr := c.Close(); cerr != nil {
					result = multierror.Append(result, cerr)
				}
			}
			return nil, result
		}
		conns = append(conns, conn)
	}

	done := make(chan any)
	go func() {
		defer func() {
			for _, conn := range conns {
				conn.Close()
			}
			close(done)
		}()

		for packet := range in {
			for _, conn := range conns {
				n, err := conn.Write(packet)
				if err != nil {
					s.writeErrors.Inc()
					s.errLog.Do(func() {
						s.logger.Warn("write packet failed", zap.Stringer("peer", conn.RemoteAddr()), zap.Error(err))
					})
					continue
				}
				s.packets.Inc()
				s.bytes.Add(uint64(n))
			}
		}
	}()
	return done, nil
}
