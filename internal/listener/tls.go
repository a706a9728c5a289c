package listener

import (
	"crypto/tls"
	"fmt"
	"strings"

	"hostagent/internal/certificate"
)

// Names of the generated certificate files under the certificate directory.
const (
	AdhocCertName = "hostagent.crt"
	AdhocKeyName  = "hostagent.key"
)

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// tlsConfig builds the server TLS configuration. certificate is "adhoc"
// or "cert.pem,key.pem".
func tlsConfig(certSpec, certDir, minVersion string, ciphers []string) (*tls.Config, error) {
	certPath, keyPath, err := certFiles(certSpec, certDir)
	if err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %s: %w", certPath, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if minVersion != "" {
		v, ok := tlsVersions[strings.TrimPrefix(strings.ToLower(minVersion), "tlsv")]
		if !ok {
			return nil, fmt.Errorf("unsupported TLS version %q", minVersion)
		}
		cfg.MinVersion = v
	}

	if len(ciphers) > 0 {
		suites, err := cipherSuites(ciphers)
		if err != nil {
			return nil, err
		}
		cfg.CipherSuites = suites
	}

	return cfg, nil
}

func certFiles(certSpec, certDir string) (string, string, error) {
	if certSpec == "" || strings.EqualFold(certSpec, "adhoc") {
		return certificate.Ensure(certDir, AdhocCertName, AdhocKeyName)
	}

	parts := strings.Split(certSpec, ",")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("invalid certificate setting %q: expected \"adhoc\" or \"cert,key\"", certSpec)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// cipherSuites maps Go cipher suite names to ids. Insecure suites are
// accepted when named explicitly.
func cipherSuites(names []string) ([]uint16, error) {
	known := map[string]uint16{}
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		known[s.Name] = s.ID
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
