package utils

import (
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

type HTTPClientConfig struct {
	Timeout   time.Duration
	KATimeout time.Duration
	UserAgent string
	ProxyURL  string
	Headers   Headers
}

// HTTPClient is used for the few requests the engine makes itself:
// playlist fetches and the loopback RPC endpoint (which must not be proxied).
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		DisableCompression:  true,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			log.Warn().Str("op", "utils/http-client").Err(err).Msg("Ignoring invalid proxy URL")
		} else {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for _, h := range c.config.Headers {
		req.Header.Set(h.Key, h.Value)
	}
	return c.client.Do(req)
}

func (c *HTTPClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
