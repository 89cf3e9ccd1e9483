package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/teranos/gbvm/errors"
)

// NewLoopbackClient creates the client façade proxies use to reach the bot
// server. The server lives next to the engine, so connections are kept
// warm and redirects are refused.
func NewLoopbackClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return errors.Newf("façade endpoint redirected to %s", req.URL)
		},
	}
}
