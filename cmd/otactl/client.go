package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/avaropoint/espota/internal/ota"
	"github.com/avaropoint/espota/internal/protocol"
	"github.com/avaropoint/espota/internal/store"
)

// staMACHeader is the header ESP8266 httpUpdate sends with each request.
const staMACHeader = "x-ESP8266-STA-MAC"

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the server's HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient returns a client for the server at base.
func NewClient(base, token string) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func (c *Client) ListPlatforms(ctx context.Context) ([]ota.PlatformInfo, error) {
	var out []ota.PlatformInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/platforms", nil, &out)
	return out, err
}

func (c *Client) CreatePlatform(ctx context.Context, name string) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/platforms", map[string]string{"name": name}, &out)
	return out.Name, err
}

func (c *Client) DeletePlatform(ctx context.Context, name string) (ota.DeleteResult, error) {
	var out ota.DeleteResult
	err := c.doJSON(ctx, http.MethodDelete, "/api/platforms/"+url.PathEscape(name), nil, &out)
	return out, err
}

// Upload publishes the firmware image at path. An empty platform lets the
// server detect it from the image.
func (c *Client) Upload(ctx context.Context, path, platform string) (ota.PublishResult, error) {
	var res ota.PublishResult
	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer f.Close() //nolint:errcheck

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if platform != "" {
		if err := mw.WriteField("platform", platform); err != nil {
			return res, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return res, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return res, err
	}
	if err := mw.Close(); err != nil {
		return res, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", &buf)
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(req, &res)
	return res, err
}

func (c *Client) AddAccess(ctx context.Context, platform, mac string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/platforms/"+url.PathEscape(platform)+"/accesslist",
		map[string]string{"mac": mac}, nil)
}

func (c *Client) RemoveAccess(ctx context.Context, platform, mac string) error {
	return c.doJSON(ctx, http.MethodDelete,
		"/api/platforms/"+url.PathEscape(platform)+"/accesslist/"+url.PathEscape(mac), nil, nil)
}

// SetOTAArgs sets the platform default, or a device override when mac is
// set. Empty args clears the value.
func (c *Client) SetOTAArgs(ctx context.Context, platform, mac, args string) error {
	path := "/api/platforms/" + url.PathEscape(platform)
	if mac != "" {
		path += "/accesslist/" + url.PathEscape(mac)
	}
	return c.doJSON(ctx, http.MethodPut, path+"/otaargs", map[string]string{"otaargs": args}, nil)
}

// CheckResult is the outcome of a simulated device update check.
type CheckResult struct {
	Status int
	MD5    string
	Bytes  int64
}

// Check performs an update check the way a device does. When the server
// serves firmware the image is copied to w.
func (c *Client) Check(ctx context.Context, dev, ver, mac string, w io.Writer) (CheckResult, error) {
	q := url.Values{"dev": {dev}, "ver": {ver}}
	req, err := c.newRequest(ctx, http.MethodGet, "/update?"+q.Encode(), nil)
	if err != nil {
		return CheckResult{}, err
	}
	req.Header.Set(staMACHeader, mac)
	resp, err := c.http.Do(req)
	if err != nil {
		return CheckResult{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	res := CheckResult{Status: resp.StatusCode, MD5: resp.Header.Get("x-MD5")}
	switch {
	case resp.StatusCode == http.StatusOK:
		res.Bytes, err = io.Copy(w, resp.Body)
		return res, err
	case resp.StatusCode == http.StatusNotModified:
		return res, nil
	default:
		return res, readAPIError(resp)
	}
}

// OTAArgs fetches the arguments a device would receive.
func (c *Client) OTAArgs(ctx context.Context, dev, ver, mac string) (string, error) {
	q := url.Values{"dev": {dev}, "ver": {ver}}
	req, err := c.newRequest(ctx, http.MethodGet, "/otaargs?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(staMACHeader, mac)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

// Log posts text to the device log stream named id and returns its key.
func (c *Client) Log(ctx context.Context, id, text string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/log?id="+url.QueryEscape(id), strings.NewReader(text))
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}
	key, err := io.ReadAll(resp.Body)
	return string(key), err
}

func (c *Client) Events(ctx context.Context, f store.EventFilter) ([]*store.Event, error) {
	q := url.Values{}
	if f.Platform != "" {
		q.Set("platform", f.Platform)
	}
	if f.Kind != "" {
		q.Set("kind", f.Kind)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var out []*store.Event
	err := c.doJSON(ctx, http.MethodGet, "/api/events?"+q.Encode(), nil, &out)
	return out, err
}

// Tail follows a device log stream, calling fn for every record until ctx
// is done or the server closes the connection.
func (c *Client) Tail(ctx context.Context, id string, fn func(protocol.LogRecord)) error {
	u, err := url.Parse(c.base + "/ws/logs")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"id": {id}}.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, err := protocol.Dial(ctx, u.String(), header)
	if err != nil {
		return err
	}
	defer conn.Close(protocol.CloseNormal, "") //nolint:errcheck
	stop := context.AfterFunc(ctx, func() {
		conn.Close(protocol.CloseNormal, "") //nolint:errcheck
	})
	defer stop()

	for {
		m, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, protocol.ErrClosed) {
				return nil
			}
			return err
		}
		switch m.Type {
		case protocol.TypeRecord:
			var rec protocol.LogRecord
			if err := json.Unmarshal(m.Payload, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			fn(rec)
		case protocol.TypeError:
			var e protocol.ErrorPayload
			json.Unmarshal(m.Payload, &e) //nolint:errcheck
			return fmt.Errorf("server: %s", e.Error)
		}
	}
}
