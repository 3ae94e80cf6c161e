// Package tlsutil builds the hardened HTTP transport every provider
// handle's pooled client is constructed from (§4.3/§5): TLS 1.2+,
// AEAD-only cipher suites, one pooled http.Transport per handle rather
// than per call.
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// SecureTransport returns an http.Transport with TLS hardening.
func SecureTransport() *http.Transport {
	return SecureTransportForHost(0)
}

// SecureTransportForHost returns an http.Transport with TLS hardening
// and maxIdlePerHost idle connections reserved for a single host - a
// provider handle only ever talks to its own base URL, so pooling can
// be concentrated there rather than spread across MaxIdleConns' default
// per-host share. maxIdlePerHost <= 0 uses a small default.
func SecureTransportForHost(maxIdlePerHost int) *http.Transport {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 20
	}
	return &http.Transport{
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// SecureHTTPClient returns an http.Client with TLS hardening.
// Drop-in replacement for &http.Client{Timeout: timeout}.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(),
	}
}

// ClientForHandle returns the pooled, hardened http.Client a provider
// handle should build exactly once at construction time and reuse for
// every call (§5: "pooled HTTP client per handle").
func ClientForHandle(timeout time.Duration, maxIdlePerHost int) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransportForHost(maxIdlePerHost),
	}
}
