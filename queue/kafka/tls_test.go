// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/z5labs/kestrel/config"
)

// generateTestCertificates generates a test CA and client cert/key pair for
// exercising TLSConfigFromFiles.
func generateTestCertificates(t *testing.T) (caPEM, certPEM, keyPEM []byte) {
	t.Helper()

	caPrivKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test CA"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caPrivKey.PublicKey, caPrivKey)
	require.NoError(t, err)
	caPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caCertDER})

	clientPrivKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{Organization: []string{"Test Client"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	clientCertDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caTemplate, &clientPrivKey.PublicKey, caPrivKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: clientCertDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(clientPrivKey)})
	return caPEM, certPEM, keyPEM
}

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestTLSConfigFromFiles(t *testing.T) {
	t.Run("will build a valid tls.Config", func(t *testing.T) {
		t.Run("from cert, key and CA files", func(t *testing.T) {
			caPEM, certPEM, keyPEM := generateTestCertificates(t)
			dir := t.TempDir()

			caPath := writeTemp(t, dir, "ca.pem", caPEM)
			certPath := writeTemp(t, dir, "cert.pem", certPEM)
			keyPath := writeTemp(t, dir, "key.pem", keyPEM)

			reader := TLSConfigFromFiles(
				config.Literal(certPath),
				config.Literal(keyPath),
				config.Literal(caPath),
			)

			tlsConfig := config.Must(context.Background(), reader)

			require.NotNil(t, tlsConfig)
			require.Len(t, tlsConfig.Certificates, 1)
			require.NotNil(t, tlsConfig.RootCAs)
			require.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("when the certificate file does not exist", func(t *testing.T) {
			_, _, keyPEM := generateTestCertificates(t)
			dir := t.TempDir()
			keyPath := writeTemp(t, dir, "key.pem", keyPEM)

			reader := TLSConfigFromFiles(
				config.Literal(filepath.Join(dir, "missing-cert.pem")),
				config.Literal(keyPath),
				config.Literal(filepath.Join(dir, "missing-ca.pem")),
			)

			_, err := reader.Read(context.Background())
			require.Error(t, err)
		})

		t.Run("when the CA file does not exist", func(t *testing.T) {
			caPEM, certPEM, keyPEM := generateTestCertificates(t)
			_ = caPEM
			dir := t.TempDir()
			certPath := writeTemp(t, dir, "cert.pem", certPEM)
			keyPath := writeTemp(t, dir, "key.pem", keyPEM)

			reader := TLSConfigFromFiles(
				config.Literal(certPath),
				config.Literal(keyPath),
				config.Literal(filepath.Join(dir, "missing-ca.pem")),
			)

			_, err := reader.Read(context.Background())
			require.Error(t, err)
		})
	})
}
