// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoResponder(ctx context.Context, req *http.Request) (*http.Response, error) {
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		StatusCode:    http.StatusOK,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(string(b))),
		ContentLength: int64(len(b)),
	}, nil
}

func TestHTTP1Driver(t *testing.T) {
	t.Run("will serve requests", func(t *testing.T) {
		t.Run("if a responder is configured", func(t *testing.T) {
			ln := newTCPListener(t)
			sup, err := New(
				Listeners(NewListener(ln)),
				WithResponder(ResponderFunc(echoResponder)),
			)
			require.Nil(t, err)
			require.Nil(t, sup.Start(context.Background()))
			defer sup.Stop(context.Background())

			resp, err := http.Post("http://"+ln.Addr().String(), "text/plain", strings.NewReader("hello"))
			if !assert.Nil(t, err) {
				return
			}
			defer resp.Body.Close()

			if !assert.Equal(t, http.StatusOK, resp.StatusCode) {
				return
			}

			b, err := io.ReadAll(resp.Body)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Equal(t, "hello", string(b)) {
				return
			}
		})

		t.Run("if the client reuses the connection", func(t *testing.T) {
			ln := newTCPListener(t)
			sup, err := New(
				Listeners(NewListener(ln)),
				WithResponder(ResponderFunc(echoResponder)),
			)
			require.Nil(t, err)
			require.Nil(t, sup.Start(context.Background()))
			defer sup.Stop(context.Background())

			client := &http.Client{}
			for _, msg := range []string{"one", "two", "three"} {
				resp, err := client.Post("http://"+ln.Addr().String(), "text/plain", strings.NewReader(msg))
				if !assert.Nil(t, err) {
					return
				}

				b, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				if !assert.Nil(t, err) {
					return
				}
				if !assert.Equal(t, msg, string(b)) {
					return
				}
			}

			// Keep-alive means all three requests shared one connection.
			_, total, _ := sup.conns.snapshot()
			if !assert.Equal(t, 1, total) {
				return
			}
		})
	})

	t.Run("will render an error page", func(t *testing.T) {
		t.Run("if the responder fails", func(t *testing.T) {
			ln := newTCPListener(t)
			sup, err := New(
				Listeners(NewListener(ln)),
				WithResponder(ResponderFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
					return nil, errors.New("boom")
				})),
			)
			require.Nil(t, err)
			require.Nil(t, sup.Start(context.Background()))
			defer sup.Stop(context.Background())

			resp, err := http.Get("http://" + ln.Addr().String())
			if !assert.Nil(t, err) {
				return
			}
			defer resp.Body.Close()

			if !assert.Equal(t, http.StatusInternalServerError, resp.StatusCode) {
				return
			}

			b, err := io.ReadAll(resp.Body)
			if !assert.Nil(t, err) {
				return
			}
			if !assert.Contains(t, string(b), "500") {
				return
			}
		})

		t.Run("if no responder is configured", func(t *testing.T) {
			ln := newTCPListener(t)
			sup, err := New(Listeners(NewListener(ln)))
			require.Nil(t, err)
			require.Nil(t, sup.Start(context.Background()))
			defer sup.Stop(context.Background())

			resp, err := http.Get("http://" + ln.Addr().String())
			if !assert.Nil(t, err) {
				return
			}
			defer resp.Body.Close()

			if !assert.Equal(t, http.StatusNotImplemented, resp.StatusCode) {
				return
			}
		})
	})

	t.Run("will advertise http/1.1", func(t *testing.T) {
		t.Run("if asked for its application protocols", func(t *testing.T) {
			if !assert.Equal(t, []string{"http/1.1"}, http1Factory{}.ApplicationProtocols()) {
				return
			}
		})
	})
}
