// The hubserver is the standalone fan-out node for deployments where
// listeners cannot share a Redis or NATS instance: clients connect to it over
// websockets and it relays every session event to all connected peers.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/synclisten/server/internal/channel/wshub"
	"github.com/synclisten/server/pkg/ctxlogger"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	host = configVar[string]{
		envKey:       "HUB_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	port = configVar[int]{
		envKey:       "HUB_PORT",
		flagKey:      "port",
		defaultValue: 8080,
	}
	logLevel = configVar[string]{
		envKey:       "HUB_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
)

func main() {
	pflag.String(host.flagKey, host.defaultValue, "Hub host")
	pflag.Int(port.flagKey, port.defaultValue, "Hub port")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)
	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(strings.ToUpper(viper.GetString(logLevel.flagKey)))); err != nil {
		log.Fatal(err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		}),
	}
	logger := slog.New(&h)

	hub := wshub.NewHub(logger)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", viper.GetString(host.flagKey), viper.GetInt(port.flagKey)),
		Handler: hub.Mux(),
	}

	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, cancel := context.WithTimeout(serverCtx, 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.Info("starting hub", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}

	<-serverCtx.Done()
}
