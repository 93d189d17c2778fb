package util

import (
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
	"time"

	"github.com/rs/zerolog/log"
)

const localCertLifetime = 365 * 24 * time.Hour

// loopbackHosts are always covered by a local certificate.
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// LocalCert is a PEM encoded certificate and EC key pair for serving the
// companion API on this machine.
type LocalCert struct {
	CertPEM []byte
	KeyPEM  []byte
}

// NewLocalCert issues a self-signed P-256 certificate for the loopback
// names plus any extra hosts. Hosts that parse as IPs become IP SANs.
func NewLocalCert(extraHosts ...string) (LocalCert, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return LocalCert{}, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return LocalCert{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "companion-api"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(localCertLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	seen := make(map[string]bool)
	for _, h := range append(append([]string{}, loopbackHosts...), extraHosts...) {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return LocalCert{}, fmt.Errorf("sign certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return LocalCert{}, fmt.Errorf("marshal key: %w", err)
	}

	return LocalCert{
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// WriteFiles stores the pair, creating parent directories. The key is
// written owner-only.
func (c LocalCert) WriteFiles(certFile, keyFile string) error {
	for _, f := range []struct {
		path string
		data []byte
		perm os.FileMode
	}{
		{certFile, c.CertPEM, 0644},
		{keyFile, c.KeyPEM, 0600},
	} {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(f.path), err)
		}
		if err := os.WriteFile(f.path, f.data, f.perm); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
	}

	log.Info().Str("cert", certFile).Str("key", keyFile).Msg("local API certificate written")
	return nil
}
