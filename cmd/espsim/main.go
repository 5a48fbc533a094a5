// Command espsim imitates an ESP8266 device: it posts a boot log line,
// polls the server for firmware updates, installs what it is served and
// reports the result to its log stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/version"
)

// reconnectDelay is the pause after a transport error.
const reconnectDelay = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("espsim", pflag.ExitOnError)
	server := fs.String("server", "http://localhost:5000", "server base URL")
	platform := fs.String("dev", "", "platform the device reports (required)")
	ver := fs.String("ver", "0.0.0", "firmware version the device starts with")
	mac := fs.String("mac", "", "station MAC (default: this host's first interface)")
	logID := fs.String("log-id", "", "log identity (default: the platform name)")
	interval := fs.Duration("interval", time.Minute, "update check interval")
	once := fs.Bool("once", false, "run a single update check and exit")
	fs.Parse(os.Args[1:]) //nolint:errcheck

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
		With().Timestamp().Logger()
	log.Info().Str("version", version.String()).Str("os", runtime.GOOS).Str("arch", runtime.GOARCH).Msg("espsim")

	if *platform == "" {
		log.Fatal().Msg("--dev is required")
	}
	addr := registry.NormalizeMAC(*mac)
	if addr == "" {
		var err error
		if addr, err = hardwareMAC(); err != nil {
			log.Fatal().Err(err).Msg("pass --mac")
		}
	}
	if !registry.ValidMAC(addr) {
		log.Fatal().Str("mac", *mac).Msg("invalid MAC address")
	}
	if *logID == "" {
		*logID = *platform
	}

	d := &Device{
		server:   strings.TrimRight(*server, "/"),
		platform: *platform,
		version:  *ver,
		mac:      addr,
		logID:    *logID,
		http:     &http.Client{Timeout: 2 * time.Minute},
		log:      log.With().Str("mac", registry.FormatMAC(addr)).Logger(),
	}
	log.Info().Str("server", d.server).Str("platform", d.platform).Str("mac", registry.FormatMAC(addr)).Msg("device ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		res, err := d.cycle(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("update check")
		}
		fmt.Printf("status=%d version=%s updated=%t otaargs=%q\n", res.Status, res.Version, res.Updated, res.OTAArgs)
		return
	}

	for {
		err := d.run(ctx, *interval)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("connection error")
		}
		log.Info().Dur("delay", reconnectDelay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
