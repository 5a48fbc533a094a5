package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/acme/autocert"
)

// TLSPaths holds the paths to the CA and server certificate files.
type TLSPaths struct {
	CACertPath string
	CertPath   string
	KeyPath    string
}

// TLSMode describes how the server should handle TLS.
type TLSMode int

const (
	// TLSModeOff serves plain HTTP.
	TLSModeOff TLSMode = iota
	// TLSModeSelfSigned uses an auto-generated CA and server certificate.
	TLSModeSelfSigned
	// TLSModeACME uses Let's Encrypt automatic certificate management.
	TLSModeACME
	// TLSModeCustom uses user-provided certificate and key files.
	TLSModeCustom
)

// ParseTLSMode maps a configuration value to a TLSMode.
func ParseTLSMode(s string) (TLSMode, error) {
	switch s {
	case "", "off":
		return TLSModeOff, nil
	case "self-signed":
		return TLSModeSelfSigned, nil
	case "acme":
		return TLSModeACME, nil
	case "custom":
		return TLSModeCustom, nil
	default:
		return TLSModeOff, fmt.Errorf("invalid TLS mode: %q", s)
	}
}

func (m TLSMode) String() string {
	switch m {
	case TLSModeSelfSigned:
		return "self-signed"
	case TLSModeACME:
		return "acme"
	case TLSModeCustom:
		return "custom"
	default:
		return "off"
	}
}

// TLSOptions selects and parameterizes a TLS mode.
type TLSOptions struct {
	Mode     TLSMode
	Dir      string
	Domains  []string
	CertFile string
	KeyFile  string
}

// TLSResult holds the outcome of TLS setup, including the config and
// any ACME manager that needs to be wired into the HTTP server.
type TLSResult struct {
	Config      *tls.Config       // nil when TLS is off
	Paths       *TLSPaths         // non-nil only for self-signed mode
	ACMEManager *autocert.Manager // non-nil only for ACME mode
	Mode        TLSMode
}

// SetupTLS prepares the listener configuration for opts.Mode.
func SetupTLS(opts TLSOptions) (*TLSResult, error) {
	res := &TLSResult{Mode: opts.Mode}
	switch opts.Mode {
	case TLSModeOff:
		return res, nil
	case TLSModeSelfSigned:
		cfg, paths, err := LoadOrGenerateTLS(opts.Dir, opts.Domains)
		if err != nil {
			return nil, err
		}
		res.Config, res.Paths = cfg, paths
	case TLSModeACME:
		if len(opts.Domains) == 0 {
			return nil, fmt.Errorf("acme: no domains configured")
		}
		m, cfg, err := newACMEManager(opts.Dir, opts.Domains)
		if err != nil {
			return nil, err
		}
		res.ACMEManager, res.Config = m, cfg
	case TLSModeCustom:
		cfg, err := LoadCustomTLS(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		res.Config = cfg
	default:
		return nil, fmt.Errorf("unsupported TLS mode %d", opts.Mode)
	}
	return res, nil
}

// LoadOrGenerateTLS loads the self-signed certificates in dir, generating
// them on first use. hosts are added to the server certificate's names.
func LoadOrGenerateTLS(dir string, hosts []string) (*tls.Config, *TLSPaths, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create TLS dir: %w", err)
	}
	paths := &TLSPaths{
		CACertPath: filepath.Join(dir, "ca.crt"),
		CertPath:   filepath.Join(dir, "server.crt"),
		KeyPath:    filepath.Join(dir, "server.key"),
	}

	// Generate if any file is missing.
	if !fileExists(paths.CACertPath) || !fileExists(paths.CertPath) || !fileExists(paths.KeyPath) {
		if err := generateCerts(paths, hosts); err != nil {
			return nil, nil, fmt.Errorf("generate TLS certs: %w", err)
		}
	}

	cert, err := tls.LoadX509KeyPair(paths.CertPath, paths.KeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load TLS keypair: %w", err)
	}

	caCertPEM, err := os.ReadFile(paths.CACertPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	caPool.AppendCertsFromPEM(caCertPEM)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS12,
	}, paths, nil
}

// LoadCustomTLS loads user-provided certificate and key files.
func LoadCustomTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load custom TLS keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// newACMEManager obtains and renews certificates for domains from Let's
// Encrypt, caching them under dir/acme. The manager's HTTPHandler must be
// served on :80 for HTTP-01 challenges.
func newACMEManager(dir string, domains []string) (*autocert.Manager, *tls.Config, error) {
	cache := filepath.Join(dir, "acme")
	if err := os.MkdirAll(cache, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create ACME cache: %w", err)
	}
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cache),
	}
	cfg := m.TLSConfig()
	cfg.MinVersion = tls.VersionTLS12
	return m, cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
