package protocol

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAcceptKey(t *testing.T) {
	// Example from RFC 6455 section 1.3.
	if got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("AcceptKey = %q", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 5, 125, 126, 70000}
	for _, n := range sizes {
		for _, mask := range []bool{false, true} {
			payload := bytes.Repeat([]byte("x"), n)
			var buf bytes.Buffer
			if err := WriteFrame(&buf, OpText, payload, mask); err != nil {
				t.Fatal(err)
			}
			op, got, err := ReadFrame(bufio.NewReader(&buf))
			if err != nil {
				t.Fatalf("ReadFrame(%d, mask=%v): %v", n, mask, err)
			}
			if op != OpText || !bytes.Equal(got, payload) {
				t.Fatalf("size %d mask %v: op %d, %d bytes", n, mask, op, len(got))
			}
		}
	}
}

func TestReadFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x81, 127, 0, 0, 0, 0, 0x10, 0, 0, 0})
	if _, _, err := ReadFrame(bufio.NewReader(&buf)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpgradeAndDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		m, _ := NewMessage(TypeRecord, LogRecord{Stream: "dev", Line: "hello"})
		_ = c.WriteMessage(m)
		_, _ = c.ReadMessage()
		_ = c.Close(CloseNormal, "")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/logs?id=dev"

	if _, err := Dial(ctx, wsURL, nil); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("unauthenticated dial err = %v", err)
	}

	c, err := Dial(ctx, wsURL, http.Header{"Authorization": []string{"Bearer t"}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	m, err := c.ReadMessage()
	if err != nil || m.Type != TypeRecord || !strings.Contains(string(m.Payload), "hello") {
		t.Fatalf("message = %+v, %v", m, err)
	}
	if err := c.Close(CloseNormal, "bye"); err != nil {
		t.Fatal(err)
	}
}
