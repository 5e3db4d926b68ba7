// Package tlsconf builds client TLS configurations from certificate files
// and applies OpenSSL-style configuration command strings to them.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Files names the certificate material for one TLS endpoint. CAFile may be
// empty; CertFile and KeyFile must either both be set or both be empty.
type Files struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// Load reads the certificate files through fs and assembles a client
// tls.Config. Peer verification is disabled: the generator never
// authenticates the receiver it is flooding.
func Load(fs afero.Fs, files Files) (*tls.Config, error) {
	conf := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // the receiver under test is not authenticated
	}

	if files.CAFile != "" {
		pem, err := afero.ReadFile(fs, files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("could not read CA file %q: %w", files.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in CA file %q", files.CAFile)
		}
		conf.RootCAs = pool
	}

	if files.CertFile != "" || files.KeyFile != "" {
		if files.CertFile == "" || files.KeyFile == "" {
			return nil, fmt.Errorf("certificate and key must be given together")
		}
		certPEM, err := afero.ReadFile(fs, files.CertFile)
		if err != nil {
			return nil, fmt.Errorf("could not read cert file %q: %w", files.CertFile, err)
		}
		keyPEM, err := afero.ReadFile(fs, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("could not read key file %q: %w", files.KeyFile, err)
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf(
				"could not load key pair (have you mixed up key and certificate?): %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}

var protocolVersions = map[string]uint16{
	"TLSv1":   tls.VersionTLS10,
	"TLSv1.1": tls.VersionTLS11,
	"TLSv1.2": tls.VersionTLS12,
	"TLSv1.3": tls.VersionTLS13,
}

// ApplyConfigCommands applies an OpenSSL SSL_CONF_cmd style command string,
// e.g. "Protocol=ALL,-SSLv2,-SSLv3,-TLSv1", to conf. A single command=value
// pair is accepted, mirroring what the TLS drivers of the original syslog
// tooling pass through. Unknown commands are logged and ignored so that
// receiver-side test rigs written against other TLS stacks keep working.
func ApplyConfigCommands(conf *tls.Config, command string, logger logrus.FieldLogger) error {
	if command == "" {
		return nil
	}
	cmd, value, ok := strings.Cut(command, "=")
	if !ok {
		return fmt.Errorf("invalid TLS config command %q, expected command=value", command)
	}

	switch cmd {
	case "Protocol":
		return applyProtocolCommand(conf, value)
	case "MinProtocol":
		v, ok := protocolVersions[value]
		if !ok {
			return fmt.Errorf("unknown protocol version %q", value)
		}
		conf.MinVersion = v
	case "MaxProtocol":
		v, ok := protocolVersions[value]
		if !ok {
			return fmt.Errorf("unknown protocol version %q", value)
		}
		conf.MaxVersion = v
	default:
		logger.WithField("command", cmd).Warn("unsupported TLS config command ignored")
	}
	return nil
}

// applyProtocolCommand handles "Protocol=ALL,-SSLv2,-SSLv3,...". Versions
// prefixed with '-' are disabled; the lowest and highest remaining versions
// become the min/max bounds. SSLv2 and SSLv3 do not exist in the Go TLS
// stack, so disabling them is a no-op.
func applyProtocolCommand(conf *tls.Config, value string) error {
	disabled := map[uint16]bool{}
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "ALL" || tok == "":
			continue
		case strings.HasPrefix(tok, "-"):
			name := tok[1:]
			if name == "SSLv2" || name == "SSLv3" {
				continue
			}
			v, ok := protocolVersions[name]
			if !ok {
				return fmt.Errorf("unknown protocol version %q", name)
			}
			disabled[v] = true
		default:
			return fmt.Errorf("invalid protocol token %q", tok)
		}
	}

	ordered := []uint16{tls.VersionTLS10, tls.VersionTLS11, tls.VersionTLS12, tls.VersionTLS13}
	var enabled []uint16
	for _, v := range ordered {
		if !disabled[v] {
			enabled = append(enabled, v)
		}
	}
	if len(enabled) == 0 {
		return fmt.Errorf("TLS config %q disables every protocol version", value)
	}
	conf.MinVersion = enabled[0]
	conf.MaxVersion = enabled[len(enabled)-1]
	return nil
}
