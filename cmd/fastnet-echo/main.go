package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ahicks92/fastnet/pkg/fastnet"
	"github.com/ahicks92/fastnet/pkg/logger"
)

const version = "1.0.0"

// Config mirrors the teacher's hand-rolled Config struct shape
// (host/port/timeout/extensions), only the parsing moves off hardcoded
// literals and onto pflag.
type Config struct {
	Host      string
	Port      int
	Connect   string
	Timeout   uint64
	Extension string
}

func loadConfig() Config {
	host := pflag.String("host", "0.0.0.0", "local address to bind")
	port := pflag.Int("port", 7777, "local UDP port to bind")
	connect := pflag.String("connect", "", "remote host:port to connect to; if empty, only listens")
	timeout := pflag.Uint64("timeout", uint64(fastnet.DefaultTimeout/time.Millisecond), "connect-phase timeout in milliseconds")
	extension := pflag.String("extension", "test_atest", "extension name this endpoint reports as supported")
	pflag.Parse()

	return Config{
		Host:      *host,
		Port:      *port,
		Connect:   *connect,
		Timeout:   *timeout,
		Extension: *extension,
	}
}

func main() {
	logger.Banner("Fastnet Echo Endpoint", version)

	cfg := loadConfig()
	local := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	handler := fastnet.PrintingHandler{}
	ep, err := fastnet.NewEndpoint(local, handler,
		fastnet.WithTracer(logger.Tracer{}),
		fastnet.WithExtensions(map[string]bool{cfg.Extension: true}),
	)
	if err != nil {
		logger.Fatal("failed to bind %s: %v", local, err)
	}
	ep.ConfigureTimeout(cfg.Timeout)

	logger.Section("endpoint ready")
	logger.Info("endpoint uuid: %s", ep.UUID())
	logger.Info("listening on %s", ep.LocalAddr())

	errChan := make(chan error, 1)
	go func() {
		if err := ep.Run(); err != nil {
			errChan <- err
		}
	}()

	if cfg.Connect != "" {
		logger.Info("connecting to %s", cfg.Connect)
		ep.Connect(cfg.Connect, 1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errChan:
		logger.Fatal("endpoint error: %v", err)
	case sig := <-sigChan:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")
		if err := ep.Close(); err != nil {
			logger.Error("error during shutdown: %v", err)
		}
		logger.Success("endpoint stopped")
	}
}
