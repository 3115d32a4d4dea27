// Package identitytest provides an in-memory certificate authority for tests.
package identitytest

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/identity"
)

// CA is an in-memory certificate authority. It implements identity.CA.
type CA struct {
	MSPID auction.OrgID

	lk       sync.Mutex
	key      *ecdsa.PrivateKey
	cert     *x509.Certificate
	serial   int64
	secrets  map[string]string
	enrolls  int
	register int
}

// NewCA returns a CA for the given organization (e.g. "org1") and MSP id.
func NewCA(t testing.TB, org string, mspID auction.OrgID) *CA {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   fmt.Sprintf("ca.%s.example.com", org),
			Organization: []string{fmt.Sprintf("%s.example.com", org)},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &CA{
		MSPID:   mspID,
		key:     key,
		cert:    cert,
		serial:  1,
		secrets: map[string]string{identity.AdminID: identity.DefaultAdminSecret},
	}
}

// RootPEM returns the CA certificate.
func (ca *CA) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.cert.Raw})
}

// Issue returns a credential for id without going through registration.
func (ca *CA) Issue(t testing.TB, id string) identity.Credential {
	e, err := ca.issue(id)
	require.NoError(t, err)
	return identity.NewCredential(ca.MSPID, e.CertificatePEM, e.PrivateKeyPEM)
}

// Enroll implements identity.CA.
func (ca *CA) Enroll(_ context.Context, req identity.EnrollmentRequest) (identity.Enrollment, error) {
	ca.lk.Lock()
	ca.enrolls++
	secret, ok := ca.secrets[req.EnrollmentID]
	ca.lk.Unlock()
	if !ok || secret != req.Secret {
		return identity.Enrollment{}, errors.New("authentication failure")
	}
	return ca.issue(req.EnrollmentID)
}

// Register implements identity.CA.
func (ca *CA) Register(
	_ context.Context,
	registrar identity.Credential,
	req identity.RegistrationRequest) (string, error) {
	cert, err := registrar.Certificate()
	if err != nil {
		return "", err
	}
	if cert.Subject.CommonName != identity.AdminID {
		return "", errors.New("registrar isn't the admin")
	}
	ca.lk.Lock()
	defer ca.lk.Unlock()
	ca.register++
	if _, ok := ca.secrets[req.EnrollmentID]; ok {
		return "", fmt.Errorf("identity %s is already registered", req.EnrollmentID)
	}
	secret := fmt.Sprintf("%s-secret", req.EnrollmentID)
	ca.secrets[req.EnrollmentID] = secret
	return secret, nil
}

// SignCSR issues a certificate for a PEM encoded certificate request.
func (ca *CA) SignCSR(csrPEM []byte) ([]byte, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil {
		return nil, errors.New("csr isn't PEM encoded")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, err
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, err
	}
	ca.lk.Lock()
	ca.serial++
	serial := ca.serial
	ca.lk.Unlock()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: csr.Subject.CommonName, OrganizationalUnit: []string{"client"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, csr.PublicKey, ca.key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

// EnrollCalls returns the number of Enroll calls.
func (ca *CA) EnrollCalls() int {
	ca.lk.Lock()
	defer ca.lk.Unlock()
	return ca.enrolls
}

// RegisterCalls returns the number of Register calls.
func (ca *CA) RegisterCalls() int {
	ca.lk.Lock()
	defer ca.lk.Unlock()
	return ca.register
}

func (ca *CA) issue(id string) (identity.Enrollment, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return identity.Enrollment{}, err
	}
	ca.lk.Lock()
	ca.serial++
	serial := ca.serial
	ca.lk.Unlock()

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject: pkix.Name{
			CommonName:         id,
			OrganizationalUnit: []string{"client"},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return identity.Enrollment{}, err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return identity.Enrollment{}, err
	}
	return identity.Enrollment{
		CertificatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		PrivateKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
	}, nil
}

// MemStore is an in-memory identity.Store that counts calls.
type MemStore struct {
	lk    sync.Mutex
	creds map[string]identity.Credential
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{creds: map[string]identity.Credential{}}
}

// Get implements identity.Store.
func (s *MemStore) Get(_ context.Context, id string) (identity.Credential, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return identity.Credential{}, identity.ErrIdentityNotFound
	}
	return c, nil
}

// List implements identity.Lister.
func (s *MemStore) List(_ context.Context) ([]string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	ids := make([]string, 0, len(s.creds))
	for id := range s.creds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Put implements identity.Store.
func (s *MemStore) Put(_ context.Context, id string, c identity.Credential) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.creds[id] = c
	return nil
}
