package streamer

import (
	"context"
	"log/slog"
	"time"

	"github.com/NotVinay/tastystream/dxfeed"
)

// keepAlivePeriod returns the period between keep-alives: half the advised
// timeout, or override when it is shorter than the advised timeout.
func keepAlivePeriod(advice dxfeed.Advice, override time.Duration) time.Duration {
	advised := time.Duration(advice.Timeout) * time.Millisecond
	if advised <= 0 {
		if override > 0 {
			return override
		}
		return defaultKeepAlive
	}
	if override > 0 && override < advised {
		return override
	}
	return advised / 2
}

// keepAlive sends a connect message through w every period until ctx is done.
func keepAlive(ctx context.Context, w *writer, clientID string, period time.Duration, log *slog.Logger, m *Metrics) error {
	log.Debug("starting keep-alive", "period", period)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("stopping keep-alive")
			return nil
		case <-ticker.C:
			if err := w.send(ctx, dxfeed.ConnectMessage(clientID)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			m.keepAliveSent()
		}
	}
}
