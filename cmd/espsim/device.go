package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/avaropoint/espota/internal/registry"
)

// Device imitates the update and logging behavior of ESP8266 firmware.
type Device struct {
	server   string
	platform string
	version  string
	mac      string
	logID    string
	http     *http.Client
	log      zerolog.Logger
}

// CycleResult reports one update check.
type CycleResult struct {
	Status  int
	Updated bool
	Version string
	OTAArgs string
}

// run boots the device and polls for updates until ctx is done. It
// returns on the first transport error so the caller can back off.
func (d *Device) run(ctx context.Context, interval time.Duration) error {
	if err := d.sendLog(ctx, fmt.Sprintf("boot %s %s mac=%s", d.platform, d.version, registry.FormatMAC(d.mac))); err != nil {
		return fmt.Errorf("boot log: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := d.cycle(ctx)
		if err != nil {
			return err
		}
		d.log.Info().Int("status", res.Status).Str("version", res.Version).Bool("updated", res.Updated).
			Str("otaargs", res.OTAArgs).Msg("update check")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// cycle performs one update check and applies any served image.
func (d *Device) cycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{Version: d.version}

	req, err := d.request(ctx, http.MethodGet, "/update", nil)
	if err != nil {
		return res, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close() //nolint:errcheck
	res.Status = resp.StatusCode

	switch resp.StatusCode {
	case http.StatusOK:
		next, err := d.install(resp)
		if err != nil {
			d.sendLog(ctx, "update failed: "+err.Error()) //nolint:errcheck
			return res, nil
		}
		d.sendLog(ctx, fmt.Sprintf("updated %s -> %s", d.version, next)) //nolint:errcheck
		d.version = next
		res.Version = next
		res.Updated = true
	case http.StatusNotModified:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		d.log.Warn().Int("status", resp.StatusCode).Str("body", strings.TrimSpace(string(body))).Msg("update rejected")
	}

	if args, err := d.otaArgs(ctx); err == nil {
		res.OTAArgs = args
	}
	return res, nil
}

// install verifies a served image against its x-MD5 header and reads the
// new version from the image.
func (d *Device) install(resp *http.Response) (string, error) {
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(blob)
	if want := resp.Header.Get("x-MD5"); want != "" && !strings.EqualFold(want, hex.EncodeToString(sum[:])) {
		return "", fmt.Errorf("md5 mismatch")
	}
	tok, ok := registry.FindVersionToken(blob)
	if !ok {
		return "", fmt.Errorf("image carries no version")
	}
	return tok.String(), nil
}

func (d *Device) otaArgs(ctx context.Context) (string, error) {
	req, err := d.request(ctx, http.MethodGet, "/otaargs", nil)
	if err != nil {
		return "", err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("otaargs: %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

func (d *Device) sendLog(ctx context.Context, line string) error {
	u := d.server + "/log?" + url.Values{"id": {d.logID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(line+"\n"))
	if err != nil {
		return err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("log: %s", resp.Status)
	}
	return nil
}

func (d *Device) request(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	q := url.Values{"dev": {d.platform}, "ver": {d.version}}
	req, err := http.NewRequestWithContext(ctx, method, d.server+path+"?"+q.Encode(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "ESP8266-http-Update")
	req.Header.Set("x-ESP8266-STA-MAC", registry.FormatMAC(d.mac))
	return req, nil
}

// hardwareMAC returns the address of the first up, non-loopback interface
// with a 6-byte hardware address.
func hardwareMAC() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 || len(ifc.HardwareAddr) != 6 {
			continue
		}
		return registry.NormalizeMAC(ifc.HardwareAddr.String()), nil
	}
	return "", fmt.Errorf("no hardware address found")
}
