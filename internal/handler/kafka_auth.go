package handler

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

// scramClient adapts xdg-go/scram to sarama.SCRAMClient.
type scramClient struct {
	hashGen scram.HashGeneratorFcn
	conv    *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashGen.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conv = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conv.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conv.Done()
}

var scramMechanisms = map[string]struct {
	mechanism sarama.SASLMechanism
	hashGen   scram.HashGeneratorFcn
}{
	"SCRAM-SHA-256": {sarama.SASLTypeSCRAMSHA256, sha256.New},
	"SCRAM-SHA-512": {sarama.SASLTypeSCRAMSHA512, sha512.New},
}

// configureSASL enables SASL on sc. An empty mechanism means PLAIN.
func configureSASL(sc *sarama.Config, mechanism, user, password string) error {
	sc.Net.SASL.Enable = true
	sc.Net.SASL.User = user
	sc.Net.SASL.Password = password

	mechanism = strings.ToUpper(mechanism)
	switch mechanism {
	case "", sarama.SASLTypePlaintext:
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		return nil
	}

	m, ok := scramMechanisms[mechanism]
	if !ok {
		return fmt.Errorf("unsupported Kafka SASL mechanism %q", mechanism)
	}
	sc.Net.SASL.Mechanism = m.mechanism
	sc.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
		return &scramClient{hashGen: m.hashGen}
	}
	return nil
}

// clientTLSConfig loads an optional client certificate and an optional CA
// bundle. Without a CA the system roots are used.
func clientTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" || keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", caFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}
