// Package telemetry is the thin client for the remote sweep controller: a
// liveness ping, a log push, an archive upload and a final shutdown notice.
// Calls are synchronous and never retried; the caller decides what a failure
// means.
package telemetry

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// Pinger is the liveness surface the workload watchdog needs.
type Pinger interface {
	Ping() error
}

type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(base *url.URL) *Client {
	return &Client{base: base, http: &http.Client{}}
}

func (c *Client) put(elem string, body io.Reader) error {
	u := c.base.JoinPath(elem)
	req, err := http.NewRequest(http.MethodPut, u.String(), body)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", u, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("PUT %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("PUT %s: unexpected status %s", u, resp.Status)
	}
	return nil
}

// Ping tells the remote controller the sweep is still alive.
func (c *Client) Ping() error {
	return c.put("ping", nil)
}

// PushLog sends log bytes accumulated since the last push.
func (c *Client) PushLog(data []byte) error {
	return c.put("log/", bytes.NewReader(data))
}

// Upload streams the archive to the remote controller under its base name.
func (c *Client) Upload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening upload %s: %w", path, err)
	}
	defer f.Close()
	return c.put("upload/"+filepath.Base(path), f)
}

// Shutdown reports the sweep's terminal status: 0 for success, 1 for failure.
func (c *Client) Shutdown(failed bool) error {
	code := 0
	if failed {
		code = 1
	}
	return c.put("shutdown/"+strconv.Itoa(code), nil)
}
