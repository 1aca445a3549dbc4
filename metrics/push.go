package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const (
	pushRetries      = 3
	pushRetryWaitMin = 100 * time.Millisecond
	pushRetryWaitMax = 2 * time.Second
)

// retryableHTTPLogger adapts zap.Logger to retryablehttp.LeveledLogger.
type retryableHTTPLogger struct {
	inner *zap.Logger
}

func (r retryableHTTPLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHTTPLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHTTPLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHTTPLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

func newPushClient(logger *zap.Logger) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = pushRetries
	client.RetryWaitMin = pushRetryWaitMin
	client.RetryWaitMax = pushRetryWaitMax
	client.Logger = retryableHTTPLogger{inner: logger}
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		logger.Debug("push gateway response",
			zap.Stringer("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode),
		)
	}
	return client.StandardClient()
}

// StartPushingMetrics pushes the default registry to the gateway at url every
// period until ctx is done. Failed pushes are retried with backoff.
func StartPushingMetrics(ctx context.Context, logger *zap.Logger, url string, period time.Duration, nodeID, networkID string) {
	pusher := push.New(url, "go-overlay").
		Client(newPushClient(logger)).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("node", nodeID).
		Grouping("network", networkID)
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := pusher.PushContext(ctx); err != nil {
					logger.Warn("failed to push metrics", zap.String("url", url), zap.Error(err))
				}
			}
		}
	}()
}
