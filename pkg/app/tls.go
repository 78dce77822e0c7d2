package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"
)

// runDomainServers serves HTTPS on :443 and redirects plain HTTP on :80.
func runDomainServers(ctx context.Context, domain string, handler http.Handler, logger *slog.Logger) error {
	cert, err := generateCertificate(domain, time.Now())
	if err != nil {
		return fmt.Errorf("unable to generate certificate: %w", err)
	}

	httpsServer := &http.Server{
		Addr:    ":443",
		Handler: handler,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpRedirect := &http.Server{
		Addr:        ":80",
		Handler:     redirectToHTTPS(domain),
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP redirect server listening", "addr", httpRedirect.Addr)
		if err := httpRedirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("redirect server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpRedirect.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTPS server starting with an ephemeral certificate",
		"domain", domain, "addr", httpsServer.Addr, "expires", cert.Leaf.NotAfter)
	return serveUntilDone(ctx, httpsServer, logger, func() error {
		// The certificate comes from TLSConfig.
		return httpsServer.ListenAndServeTLS("", "")
	})
}

// redirectToHTTPS sends every plain HTTP request to the same path on domain.
func redirectToHTTPS(domain string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

// certificateLifetime is how long an ephemeral certificate stays valid.
const certificateLifetime = 90 * 24 * time.Hour

// generateCertificate issues a self-signed P-256 certificate for domain,
// valid from an hour before now for certificateLifetime. It lives only in
// memory; a restart issues a new one.
func generateCertificate(domain string, now time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   domain,
			Organization: []string{"Project Estimator"},
		},
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(certificateLifetime),
		DNSNames:    []string{domain},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("sign certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
