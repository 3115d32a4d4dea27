package identity

import (
	"context"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/auction"
)

const (
	// AdminID is the store key and enrollment id of the organization administrator.
	AdminID = "admin"
	// DefaultAdminSecret is the bootstrap secret of the CA administrator.
	DefaultAdminSecret = "adminpw"
	// RoleClient is the registration role of application users.
	RoleClient = "client"
)

var log = logging.Logger("identity")

// EnrollmentRequest asks the CA for a certificate.
type EnrollmentRequest struct {
	EnrollmentID string
	Secret       string
}

// Enrollment is the result of an enrollment.
type Enrollment struct {
	CertificatePEM string
	PrivateKeyPEM  string
}

// RegistrationRequest asks the CA to register a new identity.
type RegistrationRequest struct {
	EnrollmentID string
	Affiliation  string
	Role         string
}

// CA is a certificate authority client.
type CA interface {
	Enroll(ctx context.Context, req EnrollmentRequest) (Enrollment, error)
	// Register returns the enrollment secret of the new identity.
	Register(ctx context.Context, registrar Credential, req RegistrationRequest) (string, error)
}

// EnrollAdmin enrolls the CA administrator and stores its credential under AdminID.
// It doesn't contact the CA if the store already holds the administrator.
func EnrollAdmin(ctx context.Context, ca CA, store Store, mspID auction.OrgID, secret string) error {
	const op = "EnrollAdmin"

	exists, err := has(ctx, store, AdminID)
	if err != nil {
		return auction.NewError(auction.KindEnrollment, op, err)
	}
	if exists {
		log.Infof("an identity for the admin user already exists in the store")
		return nil
	}

	enrollment, err := ca.Enroll(ctx, EnrollmentRequest{EnrollmentID: AdminID, Secret: secret})
	if err != nil {
		return auction.NewError(auction.KindEnrollment, op, fmt.Errorf("enrolling admin: %v", err))
	}
	cred := NewCredential(mspID, enrollment.CertificatePEM, enrollment.PrivateKeyPEM)
	if err := store.Put(ctx, AdminID, cred); err != nil {
		return auction.NewError(auction.KindEnrollment, op, fmt.Errorf("storing admin credential: %v", err))
	}
	log.Infof("successfully enrolled admin user and imported it into the store")
	return nil
}

// RegisterAndEnrollUser registers userID with the CA under affiliation, enrolls it and
// stores its credential. It doesn't contact the CA if the store already holds userID.
// The administrator must have been enrolled first.
func RegisterAndEnrollUser(
	ctx context.Context,
	ca CA,
	store Store,
	mspID auction.OrgID,
	userID string,
	affiliation string) error {
	const op = "RegisterAndEnrollUser"

	if userID == "" {
		return auction.ArgumentError(op, "user id is empty")
	}
	exists, err := has(ctx, store, userID)
	if err != nil {
		return auction.NewError(auction.KindEnrollment, op, err)
	}
	if exists {
		log.Infof("an identity for the user %s already exists in the store", userID)
		return nil
	}

	admin, err := store.Get(ctx, AdminID)
	if errors.Is(err, ErrIdentityNotFound) {
		return auction.NewError(auction.KindEnrollment, op,
			errors.New("an identity for the admin user doesn't exist in the store, enroll the admin first"))
	} else if err != nil {
		return auction.NewError(auction.KindEnrollment, op, fmt.Errorf("getting admin credential: %v", err))
	}

	secret, err := ca.Register(ctx, admin, RegistrationRequest{
		EnrollmentID: userID,
		Affiliation:  affiliation,
		Role:         RoleClient,
	})
	if err != nil {
		return auction.NewError(auction.KindEnrollment, op, fmt.Errorf("registering user %s: %v", userID, err))
	}
	enrollment, err := ca.Enroll(ctx, EnrollmentRequest{EnrollmentID: userID, Secret: secret})
	if err != nil {
		return auction.NewError(auction.KindEnrollment, op, fmt.Errorf("enrolling user %s: %v", userID, err))
	}
	cred := NewCredential(mspID, enrollment.CertificatePEM, enrollment.PrivateKeyPEM)
	if err := store.Put(ctx, userID, cred); err != nil {
		return auction.NewError(auction.KindEnrollment, op, fmt.Errorf("storing user credential: %v", err))
	}
	log.Infof("successfully registered and enrolled user %s and imported it into the store", userID)
	return nil
}

func has(ctx context.Context, store Store, id string) (bool, error) {
	_, err := store.Get(ctx, id)
	if errors.Is(err, ErrIdentityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking identity %s in store: %v", id, err)
	}
	return true, nil
}
