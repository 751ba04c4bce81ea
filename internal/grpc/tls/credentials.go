package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// LoadServerCredentials builds the health listener's credentials. The CA is
// only read when the client auth mode asks for client certificates.
func LoadServerCredentials(certFile, keyFile, caFile string, clientAuth tls.ClientAuthType) (credentials.TransportCredentials, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate %s: %w", certFile, err)
	}

	cfg := baseConfig()
	cfg.Certificates = []tls.Certificate{pair}
	cfg.ClientAuth = clientAuth
	if clientAuth != tls.NoClientCert {
		if cfg.ClientCAs, err = loadPool(caFile); err != nil {
			return nil, err
		}
	}
	return credentials.NewTLS(cfg), nil
}

// LoadClientCredentials is used by the healthcheck command. A client
// certificate is presented only when certFile is set.
func LoadClientCredentials(caFile, certFile, keyFile, serverName string) (credentials.TransportCredentials, error) {
	pool, err := loadPool(caFile)
	if err != nil {
		return nil, err
	}

	cfg := baseConfig()
	cfg.RootCAs = pool
	cfg.ServerName = serverName
	if certFile != "" {
		pair, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate %s: %w", certFile, err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return credentials.NewTLS(cfg), nil
}

// ParseClientAuthType maps the grpc.tls.client_auth setting. Empty means none.
func ParseClientAuthType(mode string) (tls.ClientAuthType, error) {
	switch mode {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "require":
		return tls.RequireAndVerifyClientCert, nil
	}
	return tls.NoClientCert, fmt.Errorf("invalid client auth type %q (valid: none, request, require)", mode)
}

func baseConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func loadPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, fmt.Errorf("a CA certificate is required")
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}
