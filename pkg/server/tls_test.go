package server

import (
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if err := GenerateSelfSignedCert(certFile, keyFile, "localhost"); err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	cert, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	if cert.Subject.CommonName != "localhost" {
		t.Errorf("CommonName = %q, want localhost", cert.Subject.CommonName)
	}
	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		t.Errorf("certificate not valid now: %v..%v", cert.NotBefore, cert.NotAfter)
	}
	found := false
	for _, name := range cert.DNSNames {
		if name == "localhost" {
			found = true
		}
	}
	if !found {
		t.Errorf("DNS names %v missing localhost", cert.DNSNames)
	}
}

func TestServerTLSConfigValidation(t *testing.T) {
	dir := t.TempDir()
	buildSealedIndex(t, dir)

	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	if err := GenerateSelfSignedCert(certFile, keyFile, "localhost"); err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.EnableTLS = true

	// TLS without a certificate pair is a configuration error.
	if _, err := New(cfg); err == nil {
		t.Error("expected New to fail with TLS enabled and no cert/key")
	}

	cfg.TLSCertFile = filepath.Join(dir, "nonexistent.pem")
	cfg.TLSKeyFile = keyFile
	if _, err := New(cfg); err == nil {
		t.Error("expected New to fail with a missing certificate file")
	}

	cfg.TLSCertFile = certFile
	cfg.TLSKeyFile = filepath.Join(dir, "nonexistent.key")
	if _, err := New(cfg); err == nil {
		t.Error("expected New to fail with a missing key file")
	}

	cfg.TLSCertFile = certFile
	cfg.TLSKeyFile = keyFile
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New with a valid generated pair: %v", err)
	}
	defer srv.evaluator.Close()

	if srv.config.TLSCertFile != certFile || srv.config.TLSKeyFile != keyFile {
		t.Errorf("server kept cert=%q key=%q, want %q/%q",
			srv.config.TLSCertFile, srv.config.TLSKeyFile, certFile, keyFile)
	}
}
