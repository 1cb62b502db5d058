// Package certs generates throwaway PKI material for mutual-TLS tests.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Set is a CA with one server and one client certificate, written as PEM
// files in a temporary directory.
type Set struct {
	Dir string

	CAFile         string
	ServerCertFile string
	ServerKeyFile  string
	ClientCertFile string
	ClientKeyFile  string

	caPool *x509.CertPool
}

// Options controls the generated server certificate.
type Options struct {
	// ServerDNSNames are the SAN DNS names. Leave ServerIPs empty and set a
	// name other than the dialled host to test hostname verification.
	ServerDNSNames []string
	ServerIPs      []net.IP
}

type issued struct {
	cert *x509.Certificate
	der  []byte
	key  *ecdsa.PrivateKey
}

// Generate creates a fresh CA and issues a server and a client certificate.
// By default the server certificate is valid for 127.0.0.1 and localhost.
func Generate(t testing.TB, opts Options) *Set {
	t.Helper()

	if opts.ServerDNSNames == nil && opts.ServerIPs == nil {
		opts.ServerDNSNames = []string{"localhost"}
		opts.ServerIPs = []net.IP{net.ParseIP("127.0.0.1")}
	}

	dir := t.TempDir()
	ca := issue(t, &x509.Certificate{
		Subject:               pkix.Name{CommonName: "mqttprobe test CA"},
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}, nil)

	server := issue(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "broker"},
		DNSNames:    opts.ServerDNSNames,
		IPAddresses: opts.ServerIPs,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}, &ca)

	client := issue(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "publisher1"},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, &ca)

	s := &Set{
		Dir:            dir,
		CAFile:         filepath.Join(dir, "ca.crt"),
		ServerCertFile: filepath.Join(dir, "server.crt"),
		ServerKeyFile:  filepath.Join(dir, "server.key"),
		ClientCertFile: filepath.Join(dir, "client.crt"),
		ClientKeyFile:  filepath.Join(dir, "client.key"),
		caPool:         x509.NewCertPool(),
	}
	s.caPool.AddCert(ca.cert)

	writeCert(t, s.CAFile, ca.der)
	writeCert(t, s.ServerCertFile, server.der)
	writeKey(t, s.ServerKeyFile, server.key)
	writeCert(t, s.ClientCertFile, client.der)
	writeKey(t, s.ClientKeyFile, client.key)

	return s
}

// ServerTLSConfig returns a broker-side config that requires a client
// certificate signed by the set's CA.
func (s *Set) ServerTLSConfig(t testing.TB) *tls.Config {
	t.Helper()
	cert, err := tls.LoadX509KeyPair(s.ServerCertFile, s.ServerKeyFile)
	if err != nil {
		t.Fatalf("loading server key pair: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    s.caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
}

func issue(t testing.TB, tmpl *x509.Certificate, parent *issued) issued {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("generating serial: %v", err)
	}
	tmpl.SerialNumber = serial
	tmpl.NotBefore = time.Now().Add(-time.Hour)
	tmpl.NotAfter = time.Now().Add(24 * time.Hour)

	parentCert, signer := tmpl, key
	if parent != nil {
		parentCert, signer = parent.cert, parent.key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parentCert, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing certificate: %v", err)
	}
	return issued{cert: cert, der: der, key: key}
}

func writeCert(t testing.TB, path string, der []byte) {
	t.Helper()
	writePEM(t, path, &pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func writeKey(t testing.TB, path string, key *ecdsa.PrivateKey) {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshalling key: %v", err)
	}
	writePEM(t, path, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func writePEM(t testing.TB, path string, block *pem.Block) {
	t.Helper()
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
