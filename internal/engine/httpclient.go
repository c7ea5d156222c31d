package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// NewFetchClient creates an HTTP client for media downloads. The overall
// deadline comes from the request context, so only the handshake is bounded here.
func NewFetchClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   5,
			IdleConnTimeout:       60 * time.Second,
			TLSHandshakeTimeout:   15 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
}

// RandomUserAgent returns a browser user agent for outbound requests.
func RandomUserAgent() string {
	return gofakeit.UserAgent()
}
