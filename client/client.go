package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/weiihann/httpbench/config"
)

// Outcome is the resolution of one request: a status and body, or Err.
type Outcome struct {
	Task   Task
	Status int
	Body   string
	Err    error
}

// Pending is an in-flight request. Wait blocks until it resolves.
type Pending struct {
	Task    Task
	done    chan struct{}
	outcome Outcome
}

// Done is closed once the outcome is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request resolves and returns its outcome.
func (p *Pending) Wait() Outcome {
	<-p.done

	return p.outcome
}

// Client is the shared handle used by every worker in a run. It is safe
// for concurrent use.
type Client struct {
	http     *http.Client
	basePath string
}

// New builds a Client for cfg. The connection pool is sized to the worker
// count so each worker can keep its own connection alive.
func New(cfg config.Config) *Client {
	var transport http.RoundTripper

	switch cfg.ClientProtocol() {
	case config.ProtocolH2C:
		transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(
				ctx context.Context, network, addr string, _ *tls.Config,
			) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	default:
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		transport = &http.Transport{
			// Proxies from the environment would distort the numbers.
			Proxy:               nil,
			DialContext:         dialer.DialContext,
			MaxIdleConns:        cfg.Workers,
			MaxIdleConnsPerHost: cfg.Workers,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Client.Timeout,
		},
		basePath: cfg.Client.BasePath,
	}
}

// Issue sends a GET for a freshly identified task asynchronously and
// returns its pending handle. Cancelling ctx aborts the request.
func (c *Client) Issue(ctx context.Context, baseURL string) *Pending {
	p := &Pending{
		Task: NewTask(baseURL, c.basePath),
		done: make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		p.outcome = c.do(ctx, p.Task)
	}()

	return p
}

func (c *Client) do(ctx context.Context, task Task) Outcome {
	out := Outcome{Task: task}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL(), nil)
	if err != nil {
		out.Err = fmt.Errorf("build request: %w", err)
		return out
	}

	resp, err := c.http.Do(req)
	if err != nil {
		out.Err = err
		return out
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		out.Err = fmt.Errorf("read body: %w", err)
		return out
	}

	out.Status = resp.StatusCode
	out.Body = string(body)

	return out
}

// Close releases idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
