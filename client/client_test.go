package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/weiihann/httpbench/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Workers = 4
	cfg.Client.Timeout = 2 * time.Second

	return cfg
}

func TestTaskPath(t *testing.T) {
	tests := []struct {
		baseURL  string
		basePath string
		wantURL  string
	}{
		{"http://h:1", "/", "http://h:1/ID"},
		{"http://h:1/", "/", "http://h:1/ID"},
		{"http://h:1", "/echo", "http://h:1/echo/ID"},
		{"http://h:1", "/echo/", "http://h:1/echo/ID"},
	}

	for _, tt := range tests {
		task := NewTask(tt.baseURL, tt.basePath)
		task.ID = "ID"

		if got := task.URL(); got != tt.wantURL {
			t.Errorf("URL(%q, %q) = %q, want %q",
				tt.baseURL, tt.basePath, got, tt.wantURL)
		}
	}
}

func TestIssueUniquePaths(t *testing.T) {
	const n = 500

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path]++
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(testConfig())
	defer c.Close()

	pending := make([]*Pending, 0, n)
	for i := 0; i < n; i++ {
		pending = append(pending, c.Issue(context.Background(), srv.URL))
	}

	ids := make(map[string]struct{}, n)
	for _, p := range pending {
		out := p.Wait()
		if out.Err != nil {
			t.Fatalf("request %s failed: %v", out.Task.Path(), out.Err)
		}
		ids[out.Task.ID] = struct{}{}
	}

	if len(ids) != n {
		t.Errorf("distinct task IDs = %d, want %d", len(ids), n)
	}
	if len(seen) != n {
		t.Errorf("distinct server paths = %d, want %d", len(seen), n)
	}
	for path, count := range seen {
		if count != 1 {
			t.Errorf("path %s requested %d times", path, count)
		}
	}
}

func TestIssueOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/fail/") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	cfg := testConfig()

	okClient := New(cfg)
	defer okClient.Close()

	out := okClient.Issue(context.Background(), srv.URL).Wait()
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Status != http.StatusOK || out.Body != "hello" {
		t.Errorf("outcome = %d %q, want 200 \"hello\"", out.Status, out.Body)
	}

	cfg.Client.BasePath = "/fail/"
	failClient := New(cfg)
	defer failClient.Close()

	out = failClient.Issue(context.Background(), srv.URL).Wait()
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", out.Status)
	}
}

func TestIssueTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(testConfig())
	defer c.Close()

	out := c.Issue(context.Background(), url).Wait()
	if out.Err == nil {
		t.Fatal("expected transport error for closed server")
	}
	if out.Status != 0 {
		t.Errorf("status = %d, want 0 on transport failure", out.Status)
	}
}

func TestIssueTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Client.Timeout = 50 * time.Millisecond

	c := New(cfg)
	defer c.Close()

	if out := c.Issue(context.Background(), srv.URL).Wait(); out.Err == nil {
		t.Error("expected timeout error")
	}
}

func TestIssueCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(testConfig())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := c.Issue(ctx, srv.URL)
	cancel()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("cancelled request did not resolve")
	}

	if out := p.Wait(); out.Err == nil {
		t.Error("expected error for cancelled request")
	}
}

func TestIssueH2C(t *testing.T) {
	protos := make(chan string, 1)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protos <- r.Proto
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(h2c.NewHandler(h, &http2.Server{}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Client.Protocol = config.ProtocolH2C

	c := New(cfg)
	defer c.Close()

	out := c.Issue(context.Background(), srv.URL).Wait()
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if proto := <-protos; proto != "HTTP/2.0" {
		t.Errorf("server saw %q, want HTTP/2.0", proto)
	}
}
