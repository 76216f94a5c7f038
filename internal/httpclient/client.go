// Package httpclient builds the outbound HTTP client shared by the OAuth and
// listing clients.
package httpclient

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// DefaultUserAgent identifies the service to Google.
const DefaultUserAgent = "luthier-review-sync/1.0"

// Options configures New.
type Options struct {
	Timeout   time.Duration
	UseUTLS   bool
	UserAgent string
	// Transport overrides the base round tripper; tests use it.
	Transport http.RoundTripper
}

// New returns an *http.Client that stamps default headers on every request.
func New(opts Options) *http.Client {
	base := opts.Transport
	if base == nil {
		base = newTransport(opts.UseUTLS)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &headerTransport{base: base, userAgent: ua},
	}
}

type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" && req.Header.Get("Accept") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	if clone.Header.Get("User-Agent") == "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	if clone.Header.Get("Accept") == "" {
		clone.Header.Set("Accept", "application/json")
	}
	return t.base.RoundTrip(clone)
}

func newTransport(useUTLS bool) http.RoundTripper {
	return buildTransport(useUTLS, nil)
}

func buildTransport(useUTLS bool, rootCAs *x509.CertPool) http.RoundTripper {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
	}
	if !useUTLS {
		return transport
	}

	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 10 * time.Second}
		rawConn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host := addr
		if strings.Contains(addr, ":") {
			host, _, _ = net.SplitHostPort(addr)
		}
		uconn, err := chromeHTTP1Conn(rawConn, &utls.Config{ServerName: host, RootCAs: rootCAs})
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		if err := uconn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		return uconn, nil
	}
	return transport
}

// chromeHTTP1Conn wraps conn with a Chrome 120 hello whose ALPN offers
// http/1.1 only. The preset ignores Config.NextProtos and would offer h2,
// which the std transport cannot speak over a custom TLS conn.
func chromeHTTP1Conn(conn net.Conn, config *utls.Config) (*utls.UConn, error) {
	spec, err := chromeHTTP1Spec()
	if err != nil {
		return nil, err
	}
	uconn := utls.UClient(conn, config, utls.HelloCustom)
	if err := uconn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("apply client hello: %w", err)
	}
	return uconn, nil
}

func chromeHTTP1Spec() (utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		return spec, fmt.Errorf("chrome client hello: %w", err)
	}
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = []string{"http/1.1"}
		case *utls.ApplicationSettingsExtension:
			e.SupportedProtocols = []string{"http/1.1"}
		}
	}
	return spec, nil
}
