package protocol

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Close status codes used by the tail.
const (
	CloseNormal    uint16 = 1000
	CloseGoingAway uint16 = 1001
	CloseInternal  uint16 = 1011
)

// ErrClosed is returned by ReadMessage after the peer sent a close frame.
var ErrClosed = errors.New("websocket closed")

// Conn is a message-oriented WebSocket connection. Writes are safe for
// concurrent use; reads are not.
type Conn struct {
	nc     net.Conn
	r      *bufio.Reader
	client bool
	wmu    sync.Mutex
}

// Upgrade performs the server side of the RFC 6455 handshake.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return nil, fmt.Errorf("not a websocket request")
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("missing Sec-WebSocket-Key")
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, fmt.Errorf("hijacking not supported")
	}
	nc, rw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	if _, err := nc.Write([]byte(response)); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return &Conn{nc: nc, r: rw.Reader}, nil
}

// Dial opens a client connection to a ws:// or wss:// URL. header is sent
// with the handshake and may be nil.
func Dial(ctx context.Context, rawURL string, header http.Header) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	secure := u.Scheme == "wss" || u.Scheme == "https"
	if u.Port() == "" {
		if secure {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}
	if secure {
		tc := tls.Client(nc, &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12})
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close() //nolint:errcheck
			return nil, err
		}
		nc = tc
	}

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\n", u.RequestURI())
	fmt.Fprintf(&req, "Host: %s\r\n", u.Host)
	req.WriteString("Upgrade: websocket\r\nConnection: Upgrade\r\n")
	fmt.Fprintf(&req, "Sec-WebSocket-Key: %s\r\n", NewKey())
	req.WriteString("Sec-WebSocket-Version: 13\r\n")
	for k, vs := range header {
		for _, v := range vs {
			fmt.Fprintf(&req, "%s: %s\r\n", k, v)
		}
	}
	req.WriteString("\r\n")
	if _, err := io.WriteString(nc, req.String()); err != nil {
		nc.Close() //nolint:errcheck
		return nil, err
	}

	reader := bufio.NewReader(nc)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		nc.Close() //nolint:errcheck
		return nil, err
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close() //nolint:errcheck
		nc.Close()        //nolint:errcheck
		return nil, fmt.Errorf("websocket handshake failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return &Conn{nc: nc, r: reader, client: true}, nil
}

// WriteMessage sends m as a text frame.
func (c *Conn) WriteMessage(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.write(OpText, data)
}

func (c *Conn) write(op byte, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.nc, op, payload, c.client)
}

// ReadMessage returns the next text message. Pings are answered and
// other control frames skipped.
func (c *Conn) ReadMessage() (Message, error) {
	for {
		op, payload, err := ReadFrame(c.r)
		if err != nil {
			return Message{}, err
		}
		switch op {
		case OpText, OpBinary:
			var m Message
			if err := json.Unmarshal(payload, &m); err != nil {
				return Message{}, fmt.Errorf("decode message: %w", err)
			}
			return m, nil
		case OpPing:
			if err := c.write(OpPong, payload); err != nil {
				return Message{}, err
			}
		case OpClose:
			_ = c.write(OpClose, payload)
			return Message{}, ErrClosed
		}
	}
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close(code uint16, reason string) error {
	_ = c.write(OpClose, ClosePayload(code, reason))
	return c.nc.Close()
}
