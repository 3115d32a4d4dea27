package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/textileio/auction-ledger/auction"
)

// SessionClaims are carried by the token issued on handshake.
type SessionClaims struct {
	jwt.StandardClaims
	MSPID       auction.OrgID `json:"msp"`
	Channel     string        `json:"chn"`
	Contract    string        `json:"ctr"`
	Certificate string        `json:"crt"`
}

func issueToken(secret []byte, c SessionClaims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %v", err)
	}
	return token, nil
}

func parseToken(secret []byte, token string) (*SessionClaims, error) {
	if token == "" {
		return nil, errors.New("token is empty")
	}
	var c SessionClaims
	t, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %v", err)
	}
	if !t.Valid {
		return nil, errors.New("token is invalid")
	}
	if c.Subject == "" || c.MSPID == "" || c.Certificate == "" {
		return nil, errors.New("token claims are incomplete")
	}
	return &c, nil
}

func newClaims(clientID string, mspID auction.OrgID, channel, contract, cert string, ttl time.Duration) SessionClaims {
	now := time.Now()
	return SessionClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   clientID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
		MSPID:       mspID,
		Channel:     channel,
		Contract:    contract,
		Certificate: cert,
	}
}
