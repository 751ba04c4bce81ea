package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Butterfly-Student/MikroBill-API/internal/grpc/client"
	grpctls "github.com/Butterfly-Student/MikroBill-API/internal/grpc/tls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// writeSelfSigned writes a CA-capable certificate for 127.0.0.1 and returns
// the cert and key paths.
func writeSelfSigned(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mikrobill-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestProbeOverTLS(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t)

	s, err := NewServer(Config{TLS: TLSConfig{
		Enabled:    true,
		CertFile:   certPath,
		KeyFile:    keyPath,
		CAFile:     certPath,
		ClientAuth: "require",
	}})
	require.NoError(t, err)
	require.NoError(t, s.Listen())
	go func() { _ = s.Start() }()
	t.Cleanup(func() { _ = s.StopWithTimeout(time.Second) })
	addr := fmt.Sprintf("127.0.0.1:%d", s.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	creds, err := grpctls.LoadClientCredentials(certPath, certPath, keyPath, "")
	require.NoError(t, err)
	status, err := client.Probe(ctx, addr, creds, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	noCert, err := grpctls.LoadClientCredentials(certPath, "", "", "")
	require.NoError(t, err)
	_, err = client.Probe(ctx, addr, noCert, "")
	assert.Error(t, err)

	_, err = client.Probe(ctx, addr, nil, "")
	assert.Error(t, err)
}

func TestAutoGeneratedCertificates(t *testing.T) {
	dir := t.TempDir()
	tlsCfg := TLSConfig{
		Enabled:      true,
		CertFile:     filepath.Join(dir, "server.crt"),
		KeyFile:      filepath.Join(dir, "server.key"),
		CAFile:       filepath.Join(dir, "ca.crt"),
		CAKeyFile:    filepath.Join(dir, "ca.key"),
		ClientAuth:   "require",
		AutoGenerate: true,
		Hosts:        []string{"127.0.0.1"},
	}
	s, err := NewServer(Config{TLS: tlsCfg})
	require.NoError(t, err)
	require.NoError(t, s.Listen())
	go func() { _ = s.Start() }()
	t.Cleanup(func() { _ = s.StopWithTimeout(time.Second) })
	addr := fmt.Sprintf("127.0.0.1:%d", s.Addr().(*net.TCPAddr).Port)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	creds, err := grpctls.LoadClientCredentials(tlsCfg.CAFile, tlsCfg.CertFile, tlsCfg.KeyFile, "")
	require.NoError(t, err)
	status, err := client.Probe(ctx, addr, creds, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
}

func TestAutoGenerateNeedsCAKey(t *testing.T) {
	dir := t.TempDir()
	_, err := NewServer(Config{TLS: TLSConfig{
		Enabled:      true,
		CertFile:     filepath.Join(dir, "server.crt"),
		KeyFile:      filepath.Join(dir, "server.key"),
		CAFile:       filepath.Join(dir, "ca.crt"),
		AutoGenerate: true,
	}})
	assert.Error(t, err)
}

func TestParseClientAuthType(t *testing.T) {
	for _, mode := range []string{"", "none", "request", "require"} {
		_, err := grpctls.ParseClientAuthType(mode)
		assert.NoError(t, err, mode)
	}
	_, err := grpctls.ParseClientAuthType("always")
	assert.Error(t, err)
}
