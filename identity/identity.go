package identity

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/textileio/auction-ledger/auction"
)

const (
	// CredentialTypeX509 is the only supported credential type.
	CredentialTypeX509 = "X.509"

	credentialVersion = 1
)

var (
	// ErrIdentityNotFound indicates the store has no credential for the requested id.
	ErrIdentityNotFound = errors.New("identity not found")
)

// Credentials holds PEM encoded certificate and private key.
type Credentials struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"privateKey"`
}

// Credential is a signing identity kept in an identity store.
type Credential struct {
	Credentials Credentials   `json:"credentials"`
	MSPID       auction.OrgID `json:"mspId"`
	Type        string        `json:"type"`
	Version     int           `json:"version"`
}

// NewCredential returns an X.509 credential.
func NewCredential(mspID auction.OrgID, certPEM, keyPEM string) Credential {
	return Credential{
		Credentials: Credentials{
			Certificate: certPEM,
			PrivateKey:  keyPEM,
		},
		MSPID:   mspID,
		Type:    CredentialTypeX509,
		Version: credentialVersion,
	}
}

// Validate checks the credential can be used for signing.
func (c Credential) Validate() error {
	if c.Type != CredentialTypeX509 {
		return fmt.Errorf("unsupported credential type %q", c.Type)
	}
	if c.MSPID == "" {
		return errors.New("msp id is empty")
	}
	if _, err := c.Certificate(); err != nil {
		return err
	}
	if _, err := c.Signer(); err != nil {
		return err
	}
	return nil
}

// Certificate returns the parsed certificate of the credential.
func (c Credential) Certificate() (*x509.Certificate, error) {
	return ParseCertificate([]byte(c.Credentials.Certificate))
}

// Signer returns the private key of the credential.
func (c Credential) Signer() (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(c.Credentials.PrivateKey))
	if block == nil {
		return nil, errors.New("private key isn't PEM encoded")
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		s, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", k)
		}
		return s, nil
	}
	k, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %v", err)
	}
	return k, nil
}

// ClientID returns the identity string the ledger assigns to the credential holder.
func (c Credential) ClientID() (string, error) {
	cert, err := c.Certificate()
	if err != nil {
		return "", err
	}
	return ClientID(cert), nil
}

// ParseCertificate parses a PEM encoded certificate.
func ParseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("certificate isn't PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %v", err)
	}
	return cert, nil
}

// ClientID returns the x509::<subject>::<issuer> identity of a certificate.
func ClientID(cert *x509.Certificate) string {
	return fmt.Sprintf("x509::%s::%s", cert.Subject.String(), cert.Issuer.String())
}

// Store is a keyed store of credentials.
type Store interface {
	// Get returns ErrIdentityNotFound if id isn't present.
	Get(ctx context.Context, id string) (Credential, error)
	Put(ctx context.Context, id string, c Credential) error
}

// Lister is implemented by stores that can enumerate their identities.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}
