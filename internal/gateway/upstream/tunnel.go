package upstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"
)

// Tunnel is an anonymized local HTTP proxy endpoint wrapping one SOCKS5
// credential. HTTPS fetches need it because the HTTP client cannot reliably
// negotiate end-to-end TLS through a raw SOCKS5 handle; instead the client
// speaks CONNECT to the loopback listener and the tunnel carries the bytes
// over the SOCKS5 hop.
//
// At most one tunnel is live per credential id; it must be closed before
// the credential rotates away or the loopback listener leaks.
type Tunnel struct {
	CredentialID string
	CreatedAt    time.Time

	ln     net.Listener
	srv    *http.Server
	dialer proxy.ContextDialer
	group  *errgroup.Group
}

// NewTunnel binds a loopback listener and starts serving CONNECT requests
// through the SOCKS5 proxy at proxyAddr, authenticated for credentialID.
func NewTunnel(proxyAddr string, auth *proxy.Auth, credentialID string) (*Tunnel, error) {
	socksDialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer init: %w", err)
	}
	ctxDialer, ok := socksDialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support context dialing")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("tunnel listen: %w", err)
	}

	t := &Tunnel{
		CredentialID: credentialID,
		CreatedAt:    time.Now(),
		ln:           ln,
		dialer:       ctxDialer,
		group:        &errgroup.Group{},
	}
	t.srv = &http.Server{
		Handler:           http.HandlerFunc(t.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}

	t.group.Go(func() error {
		if err := t.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return t, nil
}

// URL returns the local proxy endpoint, usable as an HTTP transport proxy.
func (t *Tunnel) URL() *url.URL {
	return &url.URL{Scheme: "http", Host: t.ln.Addr().String()}
}

// Addr returns the bound loopback address.
func (t *Tunnel) Addr() string {
	return t.ln.Addr().String()
}

// Close stops the listener and waits for the serve loop to drain.
func (t *Tunnel) Close() error {
	err := t.srv.Close()
	_ = t.group.Wait()
	return err
}

func (t *Tunnel) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "tunnel only serves CONNECT", http.StatusMethodNotAllowed)
		return
	}
	t.handleConnect(w, r)
}

func (t *Tunnel) handleConnect(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	target := r.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}

	serverConn, err := t.dialer.DialContext(r.Context(), "tcp", target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	clientConn, brw, err := hj.Hijack()
	if err != nil {
		_ = serverConn.Close()
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	_, _ = brw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n")
	_ = brw.Flush()

	copyBidirectional(clientConn, serverConn)
}

// copyBidirectional shuttles bytes until either side closes.
func copyBidirectional(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(a, b)
		_ = a.Close()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(b, a)
		_ = b.Close()
		done <- struct{}{}
	}()
	<-done
	<-done
}

// dialContext exposes the underlying SOCKS5 dialer for plain-HTTP targets,
// which skip the CONNECT hop and dial through SOCKS5 directly.
func (t *Tunnel) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return t.dialer.DialContext(ctx, network, address)
}
