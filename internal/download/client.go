package download

import (
	"net"
	"net/http"
	"time"
)

// Doer abstracts the HTTP client so tests can substitute transports.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps http.Client with the config's headers and user agent applied
// to every request.
type Client struct {
	client *http.Client
	cfg    Config
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       cfg.ReadTimeout,
		DisableCompression:    true,
	}
	return &Client{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range c.cfg.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.client.Do(req)
}
