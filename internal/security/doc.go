// Package security secures the server's outer surfaces:
//
//   - TLS certificate generation and management (ECDSA P-256)
//   - Let's Encrypt certificates through autocert
//   - Admin bearer token generation and HTTP middleware
//
// Device routes never pass through the middleware. ESP8266 firmware built
// on BearSSL negotiates at most TLS 1.2, so every listener accepts 1.2.
package security
