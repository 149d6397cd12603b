package receiver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"audioring/internal/pipeline"
)

type receiveUDPStage struct {
	receiver *Receiver
}

func (r *Receiver) ReceiveUDPStage() pipeline.TypedStage[any, []byte] {
	return &receiveUDPStage{receiver: r}
}

func (r *receiveUDPStage) Process(ctx context.Context, _ <-chan any) (<-chan []byte, error) {
	return r.receiver.receiveUDP(ctx)
}

// receiveUDP owns the socket and closes it when ctx is done.
func (r *Receiver) receiveUDP(ctx context.Context) (<-chan []byte, error) {
	if err := r.Listen(ctx); err != nil {
		return nil, err
	}
	conn := r.conn
	out := make(chan []byte, 20)

	go func() {
		defer func() {
			conn.Close()
			close(out)
		}()

		buffer := make([]byte, maxPacketSize)
		for ctx.Err() == nil {
			if err := conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
				r.logger.Error("set read deadline", zap.Error(err))
				return
			}

			n, _, err := conn.ReadFrom(buffer)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				r.errLog.Do(func() { r.logger.Warn("read failed", zap.Error(err)) })
				continue
			}
			r.packets.Inc()

			select {
			case <-ctx.Done():
				return
			case out <- append([]byte(nil), buffer[:n]...):
			default:
				r.errLog.Do(func() { r.logger.Warn("packet dropped, pipeline full") })
			}
		}
	}()
	return out, nil
}
