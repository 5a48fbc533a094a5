// Command server runs the OTA firmware update server: update checks and
// downloads for devices, the administration API, and the remote log sink.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/avaropoint/espota/internal/config"
	"github.com/avaropoint/espota/internal/logsink"
	"github.com/avaropoint/espota/internal/metrics"
	"github.com/avaropoint/espota/internal/notify"
	"github.com/avaropoint/espota/internal/ota"
	"github.com/avaropoint/espota/internal/registry"
	"github.com/avaropoint/espota/internal/security"
	"github.com/avaropoint/espota/internal/store"
	"github.com/avaropoint/espota/internal/version"
	"github.com/avaropoint/espota/internal/viewer"
)

// restartMessage is written to every platform's log stream at startup.
const restartMessage = "Server restart\n"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("espota-server", pflag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default $"+config.EnvVar+")")
	newToken := fs.Bool("new-admin-token", false, "print a new admin token and its hash, then exit")
	showVersion := fs.Bool("version", false, "print version and exit")
	flags := config.Default()
	config.AddFlags(fs, flags)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	if *newToken {
		token, hash, err := security.GenerateAdminToken()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "token: %s\nhash:  %s\n", token, hash)
		fmt.Fprintln(stdout, "Add the hash to admin.token_hashes; the token is not shown again.")
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	config.ApplyFlags(fs, cfg, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	log.Info().Str("version", version.Version).Str("built", version.BuildTime).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, log)
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	m := metrics.New()

	bins, err := ota.NewBinaries(cfg.DataDir)
	if err != nil {
		return err
	}

	var events store.Store
	if path := cfg.EventsPath(); path != "" {
		db, err := store.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("open event ledger: %w", err)
		}
		defer db.Close() //nolint:errcheck
		events = db
		log.Info().Str("path", path).Msg("event ledger open")
	}

	var pub notify.Publisher = notify.Nop{}
	if cfg.Events.NATSURL != "" {
		np, err := notify.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, log.With().Str("component", "nats").Logger())
		if err != nil {
			return err
		}
		defer np.Close()
		pub = np
		log.Info().Str("url", cfg.Events.NATSURL).Str("subject", cfg.Events.Subject).Msg("publishing events")
	}
	recorder := notify.NewRecorder(events, pub, log.With().Str("component", "events").Logger())

	doc := registry.NewFileStore(cfg.RegistryPath())
	reg := registry.New(doc, registry.WithSerializedWrites(cfg.SerializeWrites))
	if !reg.Serialized() {
		log.Warn().Msg("registry writes are not serialized; concurrent updates may be lost")
	}
	svc := ota.New(reg, bins,
		ota.WithEvents(recorder),
		ota.WithLogger(log.With().Str("component", "ota").Logger()),
	)

	sink, err := logsink.New(cfg.RemoteLogs.Dir,
		logsink.WithKeepDays(cfg.RemoteLogs.KeepDays),
		logsink.WithLogger(log.With().Str("component", "logsink").Logger()),
		logsink.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer sink.Close() //nolint:errcheck

	var sup *viewer.Supervisor
	if cfg.Viewer.Command != "" {
		sup = viewer.New(viewer.Config{
			Command: cfg.Viewer.Command,
			Args:    cfg.Viewer.Args,
			BaseURL: cfg.Viewer.BaseURL,
		}, log.With().Str("component", "viewer").Logger())
		defer sup.Stop()
	}

	announceRestart(ctx, svc, sink, log)

	auth := security.NewAuthMiddleware(cfg.Admin.TokenHashes)
	if !auth.Enabled() {
		log.Warn().Msg("no admin tokens configured; administration API is open")
	}

	srv := NewServer(Deps{
		Service:   svc,
		Logs:      sink,
		Viewer:    sup,
		Events:    events,
		Metrics:   m,
		Auth:      auth,
		Logger:    log.With().Str("component", "http").Logger(),
		MaxUpload: cfg.MaxUploadBytes,
	})

	mode, err := security.ParseTLSMode(cfg.TLS.Mode)
	if err != nil {
		return err
	}
	tlsRes, err := security.SetupTLS(security.TLSOptions{
		Mode:     mode,
		Dir:      cfg.TLSDir(),
		Domains:  cfg.TLS.Domains,
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Routes(),
		TLSConfig:         tlsRes.Config,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if tlsRes.ACMEManager != nil {
		go func() {
			log.Info().Msg("serving ACME HTTP-01 challenges on :80")
			if err := http.ListenAndServe(":80", tlsRes.ACMEManager.HTTPHandler(nil)); err != nil {
				log.Error().Err(err).Msg("ACME challenge listener")
			}
		}()
	}
	if tlsRes.Paths != nil {
		ev := log.Info().Str("ca", tlsRes.Paths.CACertPath)
		if fp, err := security.Fingerprint(tlsRes.Paths.CertPath); err == nil {
			ev = ev.Str("fingerprint", fp)
		}
		ev.Msg("self-signed TLS; pin the fingerprint or CA certificate in device firmware")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Listen).Str("tls", mode.String()).
			Str("registry", doc.Path()).Str("binaries", bins.Dir()).Msg("listening")
		if tlsRes.Config != nil {
			errCh <- httpSrv.ListenAndServeTLS("", "")
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// announceRestart marks the restart in each platform's log stream.
func announceRestart(ctx context.Context, svc *ota.Service, sink *logsink.Sink, log zerolog.Logger) {
	platforms, err := svc.ListPlatforms(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load registry")
		return
	}
	for _, p := range platforms {
		if _, err := sink.Ingest(p.Name, restartMessage); err != nil {
			log.Warn().Err(err).Str("platform", p.Name).Msg("restart message")
		}
	}
	log.Info().Int("platforms", len(platforms)).Msg("registry loaded")
}
