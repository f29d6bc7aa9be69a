// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/z5labs/bastion"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr string `yaml:"addr"`

	Limits struct {
		MaxConnections        int `yaml:"max_connections"`
		MaxConnectionsPerPeer int `yaml:"max_connections_per_peer"`
	} `yaml:"limits"`

	Timeouts struct {
		ConnectionSeconds int `yaml:"connection_seconds"`
		ShutdownSeconds   int `yaml:"shutdown_seconds"`
	} `yaml:"timeouts"`
}

func readConfig(path string) (Config, error) {
	cfg := Config{Addr: "127.0.0.1:8080"}
	cfg.Limits.MaxConnections = 10000
	cfg.Limits.MaxConnectionsPerPeer = 100
	cfg.Timeouts.ConnectionSeconds = 120
	cfg.Timeouts.ShutdownSeconds = 15

	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

func echo(ctx context.Context, req *http.Request) (*http.Response, error) {
	_, span := otel.Tracer("main").Start(ctx, "echo")
	defer span.End()

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

func initObservability() (func(context.Context) error, error) {
	traceExp, err := stdouttrace.New()
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		merr := mp.Shutdown(ctx)
		terr := tp.Shutdown(ctx)
		if merr != nil {
			return merr
		}
		return terr
	}, nil
}

func run(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := readConfig(configPath)
	if err != nil {
		return err
	}

	shutdownObservability, err := initObservability()
	if err != nil {
		return err
	}
	defer shutdownObservability(context.Background())

	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(logHandler)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	sup, err := bastion.New(
		bastion.Listeners(bastion.NewListener(ln)),
		bastion.WithResponder(bastion.ResponderFunc(echo)),
		bastion.LogHandler(logHandler),
		bastion.MaxConnections(cfg.Limits.MaxConnections),
		bastion.MaxConnectionsPerPeer(cfg.Limits.MaxConnectionsPerPeer),
		bastion.ConnectionTimeout(time.Duration(cfg.Timeouts.ConnectionSeconds) * time.Second),
		bastion.ShutdownTimeout(time.Duration(cfg.Timeouts.ShutdownSeconds) * time.Second),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, os.Kill)
	defer cancel()

	err = sup.Start(ctx)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "serving", slog.String("addr", ln.Addr().String()))

	<-ctx.Done()
	log.Info("shutting down")

	return sup.Stop(context.Background())
}

func main() {
	cmd := &cobra.Command{
		Use:           "echoserver",
		Short:         "Echo anything posted to it, supervised by bastion.",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().String("config", "", "path to a yaml config file")

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
