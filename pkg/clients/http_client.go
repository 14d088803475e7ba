package clients

import (
	"net"
	"net/http"
	"time"

	"github.com/sensorcloud/centrepoint-sync/pkg/config"
)

// NewHTTPClient returns an http.Client tuned for paginated API pulls: a hard
// per-request timeout, a bounded dial timeout, and keep-alive connections
// reused across pages.
func NewHTTPClient(timeouts config.TimeoutConfig) *http.Client {
	return &http.Client{
		Timeout: timeouts.Request,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   timeouts.Connection,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
