package api

import (
	"crypto/tls"
	"fmt"
	"os"
)

const (
	EnvTLSCert = "DIALOGUE_TLS_CERT"
	EnvTLSKey  = "DIALOGUE_TLS_KEY"
)

// TLSConfig holds certificate paths for serving HTTPS.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// TLSFromEnv returns nil unless both DIALOGUE_TLS_CERT and DIALOGUE_TLS_KEY are set.
func TLSFromEnv() *TLSConfig {
	cert := os.Getenv(EnvTLSCert)
	key := os.Getenv(EnvTLSKey)
	if cert == "" || key == "" {
		return nil
	}
	return &TLSConfig{CertFile: cert, KeyFile: key}
}

// Enabled is safe on a nil receiver.
func (c *TLSConfig) Enabled() bool {
	return c != nil && c.CertFile != "" && c.KeyFile != ""
}

// Load reads the key pair so a bad path fails at startup rather than on first connection.
func (c *TLSConfig) Load() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
