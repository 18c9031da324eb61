package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/blacktide/blacktide/internal/breaker"
)

// Default returns a client tuned for a small set of portal hosts.
func Default(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: false},
		MaxIdleConns:          32,
		MaxConnsPerHost:       8,
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// NewSession returns a client with a fresh cookie jar. Each collection run
// gets its own jar so session cookies never leak between runs.
func NewSession(timeout time.Duration) *http.Client {
	c := Default(timeout)
	jar, _ := cookiejar.New(nil)
	c.Jar = jar
	// Portals signal login state via redirects; collectors inspect them.
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return http.ErrUseLastResponse
		}
		return nil
	}
	return c
}

// Resilient wraps an http.Client with per-host circuit breaking.
type Resilient struct {
	client      *http.Client
	hostBreaker *breaker.HostBreaker
}

func NewResilient(client *http.Client) *Resilient {
	if client == nil {
		client = Default(0)
	}
	return &Resilient{
		client:      client,
		hostBreaker: breaker.NewHostBreaker(breaker.DefaultConfig()),
	}
}

// Do executes the request under the breaker for the target host.
// 5xx responses and transport errors count as failures.
func (c *Resilient) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	if host == "" {
		host = req.URL.Hostname()
	}

	var resp *http.Response
	err := c.hostBreaker.Execute(host, func() error {
		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return nil
	})
	return resp, err
}

// Get performs a GET request with circuit breaker protection.
func (c *Resilient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Client exposes the underlying client, e.g. for jar access.
func (c *Resilient) Client() *http.Client { return c.client }

// Stats returns circuit breaker statistics for all hosts.
func (c *Resilient) Stats() map[string]struct {
	State    string
	Requests uint32
	Failures uint32
} {
	return c.hostBreaker.Stats()
}

// ResetBreaker resets the circuit breaker for a specific host.
func (c *Resilient) ResetBreaker(host string) {
	c.hostBreaker.Reset(host)
}

// HTTPError represents a non-success HTTP response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string { return e.Status }

// StatusCodeOf returns the status code if err is an HTTPError, else 0.
func StatusCodeOf(err error) int {
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.StatusCode
	}
	return 0
}
