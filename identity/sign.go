package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
)

type ecdsaSignature struct {
	R, S *big.Int
}

// Sign signs the sha256 digest of msg. ECDSA signatures are normalized to low-S
// since peers and CAs reject the malleable high-S form.
func Sign(signer crypto.Signer, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	key, ok := signer.(*ecdsa.PrivateKey)
	if !ok {
		return signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing: %v", err)
	}
	halfOrder := new(big.Int).Rsh(key.Curve.Params().N, 1)
	if s.Cmp(halfOrder) > 0 {
		s.Sub(key.Curve.Params().N, s)
	}
	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

// Verify checks sig was produced by Sign over msg with the key certified by cert.
// High-S ECDSA signatures are rejected.
func Verify(cert *x509.Certificate, msg, sig []byte) error {
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return cert.CheckSignature(x509.ECDSAWithSHA256, msg, sig)
	}
	var es ecdsaSignature
	rest, err := asn1.Unmarshal(sig, &es)
	if err != nil {
		return fmt.Errorf("unmarshaling signature: %v", err)
	}
	if len(rest) != 0 {
		return errors.New("trailing data after signature")
	}
	if es.R == nil || es.S == nil || es.R.Sign() <= 0 || es.S.Sign() <= 0 {
		return errors.New("malformed signature")
	}
	halfOrder := new(big.Int).Rsh(pub.Curve.Params().N, 1)
	if es.S.Cmp(halfOrder) > 0 {
		return errors.New("signature has high-S")
	}
	digest := sha256.Sum256(msg)
	if !ecdsa.Verify(pub, digest[:], es.R, es.S) {
		return errors.New("invalid signature")
	}
	return nil
}
