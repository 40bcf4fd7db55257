package bridge

import (
	"context"
	"os"

	"github.com/mattjoyce/tether/internal/protocol"
)

const (
	handshakeOK     = "Handshake Successful"
	handshakeFailed = "Handshake failed"
)

// handshake sends the identify request through the normal Send path and
// records the result as the connection health. It is never retried here.
func (b *Bridge) handshake(ctx context.Context) Health {
	epoch := b.health.currentEpoch()

	resp, err := b.Send(ctx, protocol.KindSetPID, map[string]any{"pid": os.Getpid()}, b.cfg.HandshakeTimeout)

	state, msg := HealthUnhealthy, handshakeFailed
	switch {
	case err != nil:
		msg = err.Error()
	case !resp.OK:
		if resp.Error != "" {
			msg = resp.Error
		}
	default:
		state, msg = HealthHealthy, handshakeOK
		if m := resp.String("message"); m != "" {
			msg = m
		}
	}

	h, applied := b.health.setIf(epoch, state, msg)
	if !applied {
		// The worker exited while we waited; exit health stands.
		b.logger.Warn("handshake result discarded after worker exit", "result", msg)
		return h
	}
	b.notifyHealth(h)

	if h.OK() {
		b.logger.Info("handshake complete", "message", h.Message, "worker_pid", b.sup.PID())
	} else {
		b.logger.Warn("handshake failed", "message", h.Message)
	}
	return h
}
