package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"golang.org/x/crypto/acme/autocert"

	"neighborly-auth/internal/config"
	"neighborly-auth/internal/util"
)

// Manager resolves the serving certificate: autocert when configured, then
// file-based certs, then a generated self-signed pair for development.
type Manager struct {
	config   config.ServerConfig
	autoCert *autocert.Manager
}

func NewManager(cfg config.ServerConfig) *Manager {
	m := &Manager{config: cfg}

	if cfg.EnableTLS && cfg.AutoCert {
		m.setupAutoCert()
	}

	return m
}

func (m *Manager) setupAutoCert() {
	if err := os.MkdirAll(m.config.AutoCertDir, 0700); err != nil {
		util.Warn("Could not create autocert cache directory", util.ErrorField(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.config.Domain),
		Cache:      autocert.DirCache(m.config.AutoCertDir),
		Email:      m.config.AutoCertMail,
	}

	util.Info("AutoCert configured",
		util.String("domain", m.config.Domain),
		util.String("cache_dir", m.config.AutoCertDir))
}

// GetCertificate is the tls.Config callback. Falls through autocert, the
// configured key pair, and finally a self-signed dev certificate.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		if cert, err := m.autoCert.GetCertificate(hello); err == nil {
			return cert, nil
		}
	}

	if m.config.CertFile != "" && m.config.KeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile); err == nil {
			return &cert, nil
		}
	}

	return m.selfSignedCert()
}

func (m *Manager) selfSignedCert() (*tls.Certificate, error) {
	hosts := []string{m.config.Domain, "localhost", "127.0.0.1", "::1"}

	cert, err := generateDevCert(m.config.AutoCertDir, hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}

	util.Info("Using self-signed certificate", util.String("domain", m.config.Domain))
	return &cert, nil
}

// TLSConfig returns the server tls.Config backed by GetCertificate.
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// AutocertManager exposes the autocert manager for the HTTP-01 challenge
// listener; nil when autocert is not configured.
func (m *Manager) AutocertManager() *autocert.Manager {
	return m.autoCert
}
