package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
)

// tlsVersions maps configuration strings to crypto/tls constants.
var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// parseTLSVersion converts "1.2" style strings. An empty string yields def.
func parseTLSVersion(v string, def uint16) (uint16, error) {
	if v == "" {
		return def, nil
	}
	version, ok := tlsVersions[v]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTLSVersion, v)
	}
	return version, nil
}

// BuildTLSConfig creates the client TLS configuration for a mutual-TLS broker.
//
// It performs the following setup:
//  1. Loads the CA bundle used to verify the broker
//  2. Loads the client certificate and key presented to the broker
//  3. Applies the min/max protocol versions (defaults pin TLS 1.2)
//  4. Chooses the verification mode
//
// Verification modes:
//   - VerifyHostname=true: standard verification, chain and host name
//   - VerifyHostname=false: chain verified against the CA, host name ignored
//   - InsecureSkipVerify=true: nothing verified (a warning is the caller's job)
//
// Returns:
//   - *tls.Config: Ready for pahomqtt.ClientOptions.SetTLSConfig
//   - error: ErrInvalidCA, ErrInvalidClientCert or ErrInvalidTLSVersion
func BuildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	minVersion, err := parseTLSVersion(cfg.MinVersion, tls.VersionTLS12)
	if err != nil {
		return nil, err
	}
	maxVersion, err := parseTLSVersion(cfg.MaxVersion, tls.VersionTLS12)
	if err != nil {
		return nil, err
	}
	if minVersion > maxVersion {
		return nil, fmt.Errorf("%w: min %s exceeds max %s", ErrInvalidTLSVersion, cfg.MinVersion, cfg.MaxVersion)
	}

	tlsConfig := &tls.Config{
		MinVersion: minVersion,
		MaxVersion: maxVersion,
		ServerName: cfg.ServerName,
	}

	var pool *x509.CertPool
	if !cfg.InsecureSkipVerify {
		pool, err = loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidClientCert, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	switch {
	case cfg.InsecureSkipVerify:
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit operator opt-in
	case !cfg.VerifyHostname:
		// The default verifier always checks the host name, so it is switched
		// off and the chain is verified by hand without a DNS name.
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // chain verified in VerifyConnection
		tlsConfig.VerifyConnection = verifyChainOnly(pool)
	}

	return tlsConfig, nil
}

// loadCAPool reads a PEM bundle into a certificate pool.
func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCA, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no PEM certificates in %s", ErrInvalidCA, path)
	}
	return pool, nil
}

// verifyChainOnly returns a VerifyConnection hook that checks the broker
// chain against roots and ignores the certificate host names.
func verifyChainOnly(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return fmt.Errorf("%w: broker sent no certificate", ErrPeerVerification)
		}

		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}
		for _, cert := range cs.PeerCertificates[1:] {
			opts.Intermediates.AddCert(cert)
		}

		if _, err := cs.PeerCertificates[0].Verify(opts); err != nil {
			return fmt.Errorf("%w: %w", ErrPeerVerification, err)
		}
		return nil
	}
}
