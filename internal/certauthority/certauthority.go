// Package certauthority manages the root CA used to terminate TLS for
// intercepted CONNECT tunnels, plus on-demand per-host leaf
// certificates signed by that root, cached by SNI so repeat
// connections to the same host skip re-signing.
package certauthority

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	caCertFile = "mitmproxy-ca-cert.pem"
	caKeyFile  = "mitmproxy-ca.pem"
)

// Authority owns the root CA key pair and issues/caches per-host leaf
// certificates for CONNECT interception.
type Authority struct {
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey

	mu     sync.Mutex
	leaves map[string]*tls.Certificate
}

// Load reads the root CA from certsDir, generating it on first
// startup if absent.
func Load(certsDir string) (*Authority, error) {
	if err := os.MkdirAll(certsDir, 0o755); err != nil {
		return nil, err
	}
	certPath := filepath.Join(certsDir, caCertFile)
	keyPath := filepath.Join(certsDir, caKeyFile)

	if fileExists(certPath) && fileExists(keyPath) {
		return loadExisting(certPath, keyPath)
	}
	return generate(certPath, keyPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func loadExisting(certPath, keyPath string) (*Authority, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("certauthority: invalid CA cert PEM at %s", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("certauthority: invalid CA key PEM at %s", keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, err
	}
	return &Authority{caCert: cert, caKey: key, leaves: make(map[string]*tls.Certificate)}, nil
}

func generate(certPath, keyPath string) (*Authority, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "capture-proxy root CA",
			Organization: []string{"auto-generated"},
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:               time.Now().AddDate(10, 0, 0),
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                   true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, err
	}

	if err := writePEM(certPath, "CERTIFICATE", certDER, 0o644); err != nil {
		return nil, err
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0o600); err != nil {
		return nil, err
	}

	return &Authority{caCert: cert, caKey: key, leaves: make(map[string]*tls.Certificate)}, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

// LeafFor returns a certificate for host, signed by the root CA,
// minting and caching it on first request for that host.
func (a *Authority) LeafFor(host string) (*tls.Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cert, ok := a.leaves[host]; ok {
		return cert, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{host},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return nil, err
	}

	tlsCert := &tls.Certificate{
		Certificate: [][]byte{der, a.caCert.Raw},
		PrivateKey:  key,
	}
	a.leaves[host] = tlsCert
	return tlsCert, nil
}

// TLSConfig returns a server tls.Config that mints leaf certs
// on-demand keyed by SNI, for use by the CONNECT handler.
func (a *Authority) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = "localhost"
			}
			return a.LeafFor(host)
		},
	}
}
