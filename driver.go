// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Responder handles parsed requests. Drivers call it once per request
// and write the returned response back to the connection.
type Responder interface {
	Respond(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ResponderFunc is a func variant of the [Responder] interface.
type ResponderFunc func(context.Context, *http.Request) (*http.Response, error)

// Respond implements the [Responder] interface.
func (f ResponderFunc) Respond(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// ErrorHandler renders error pages. Drivers call it whenever a request
// cannot be answered by the responder. req may be nil if the failure
// occurred before a request was parsed.
type ErrorHandler interface {
	HandleError(ctx context.Context, status int, cause error, req *http.Request) (*http.Response, error)
}

// ErrorHandlerFunc is a func variant of the [ErrorHandler] interface.
type ErrorHandlerFunc func(context.Context, int, error, *http.Request) (*http.Response, error)

// HandleError implements the [ErrorHandler] interface.
func (f ErrorHandlerFunc) HandleError(ctx context.Context, status int, cause error, req *http.Request) (*http.Response, error) {
	return f(ctx, status, cause, req)
}

// Driver is the per-connection protocol state machine. It owns the
// client's read and write pumps from the moment it is created and is
// expected to renew the client's idle timeout on every byte of progress,
// which reading and writing through the [Client] does automatically.
type Driver interface {
	Serve(ctx context.Context) error
}

// DriverFactory produces a Driver for each admitted connection.
//
// A factory may additionally implement [Observer], in which case it is
// included in the observer set of every start cycle.
type DriverFactory interface {
	// ApplicationProtocols returns the ALPN protocol list advertised
	// on TLS listeners, e.g. ["h2", "http/1.1"]. An empty list leaves
	// listener TLS configs untouched.
	ApplicationProtocols() []string

	NewDriver(c *Client) Driver
}

// http1Factory is the default driver factory. It produces a minimal
// HTTP/1.1 driver which leans on net/http for wire parsing so the
// lifecycle core itself never touches HTTP syntax.
type http1Factory struct{}

func (http1Factory) ApplicationProtocols() []string {
	return []string{"http/1.1"}
}

func (http1Factory) NewDriver(c *Client) Driver {
	return &http1Driver{
		client: c,
		br:     bufio.NewReader(c),
	}
}

type http1Driver struct {
	client *Client
	br     *bufio.Reader
}

// Serve implements the [Driver] interface.
func (d *http1Driver) Serve(ctx context.Context) error {
	for {
		req, err := http.ReadRequest(d.br)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		req = req.WithContext(ctx)

		resp, err := d.respond(ctx, req)
		if err != nil {
			return err
		}

		err = resp.Write(d.client)
		if resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		if req.Close || resp.Close {
			return nil
		}
	}
}

var errNoResponder = errors.New("no responder configured")

func (d *http1Driver) respond(ctx context.Context, req *http.Request) (*http.Response, error) {
	r := d.client.Responder()
	if r == nil {
		return d.client.ErrorHandler().HandleError(ctx, http.StatusNotImplemented, errNoResponder, req)
	}

	resp, err := r.Respond(ctx, req)
	if err != nil {
		return d.client.ErrorHandler().HandleError(ctx, http.StatusInternalServerError, err, req)
	}
	return resp, nil
}

// defaultErrorHandler renders plain text status pages.
func defaultErrorHandler(_ context.Context, status int, _ error, _ *http.Request) (*http.Response, error) {
	body := fmt.Sprintf("%d %s", status, http.StatusText(status))
	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	return resp, nil
}
