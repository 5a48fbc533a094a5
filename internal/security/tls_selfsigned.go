package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"github.com/avaropoint/espota/internal/fsutil"
)

const (
	caLifetime     = 10 * 365 * 24 * time.Hour
	serverLifetime = 2 * 365 * 24 * time.Hour
)

// certAuthority signs the server certificate in self-signed mode.
type certAuthority struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// P-256 keeps the handshake within what BearSSL on an ESP8266 can verify.
func newKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func newCertAuthority(now time.Time) (*certAuthority, error) {
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          newSerial(),
		Subject:               pkix.Name{Organization: []string{"espota"}, CommonName: "espota firmware CA"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caLifetime),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &certAuthority{cert: cert, key: key}, nil
}

// issueServer signs a server certificate valid for hosts, which may mix
// DNS names and IP literals.
func (ca *certAuthority) issueServer(now time.Time, hosts []string) ([]byte, *ecdsa.PrivateKey, error) {
	key, err := newKey()
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject:      pkix.Name{Organization: []string{"espota"}, CommonName: "espota update server"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(serverLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, nil, err
	}
	return der, key, nil
}

// generateCerts writes a fresh CA and server certificate to paths. The
// server certificate covers the local names and addresses plus extraHosts.
func generateCerts(paths *TLSPaths, extraHosts []string) error {
	now := time.Now()
	ca, err := newCertAuthority(now)
	if err != nil {
		return fmt.Errorf("create CA: %w", err)
	}
	der, key, err := ca.issueServer(now, serverHosts(extraHosts))
	if err != nil {
		return fmt.Errorf("issue server certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}

	if err := writePEM(paths.CACertPath, 0o644, "CERTIFICATE", ca.cert.Raw); err != nil {
		return err
	}
	if err := writePEM(paths.CertPath, 0o644, "CERTIFICATE", der); err != nil {
		return err
	}
	return writePEM(paths.KeyPath, 0o600, "EC PRIVATE KEY", keyDER)
}

// serverHosts lists the names devices on the LAN may use to reach the
// server: localhost, the hostname and its mDNS form, every non-loopback
// interface address, and any configured extras.
func serverHosts(extra []string) []string {
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if name, err := os.Hostname(); err == nil && name != "" {
		hosts = append(hosts, name)
		if !strings.Contains(name, ".") {
			hosts = append(hosts, name+".local")
		}
	}
	ifaces, _ := net.Interfaces()
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && !n.IP.IsLinkLocalUnicast() {
				hosts = append(hosts, n.IP.String())
			}
		}
	}
	seen := make(map[string]bool, len(hosts)+len(extra))
	out := make([]string, 0, len(hosts)+len(extra))
	for _, h := range append(hosts, extra...) {
		if h = strings.TrimSpace(h); h != "" && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

func writePEM(path string, perm os.FileMode, blockType string, der []byte) error {
	return fsutil.WriteAtomic(path, perm, func(w io.Writer) error {
		return pem.Encode(w, &pem.Block{Type: blockType, Bytes: der})
	})
}

func newSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, _ := rand.Int(rand.Reader, limit)
	return serial
}

// Fingerprint returns the SHA-1 fingerprint of the first certificate in a
// PEM file, formatted as colon-separated hex. ESP8266 firmware pins the
// server with this value.
func Fingerprint(certPath string) (string, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return "", err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.New("no certificate found in " + certPath)
	}
	sum := sha1.Sum(block.Bytes) //nolint:gosec
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
