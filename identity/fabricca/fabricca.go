package fabricca

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/identity"
)

const (
	enrollPath   = "/api/v1/enroll"
	registerPath = "/api/v1/register"

	defaultTimeout = time.Second * 30
)

var log = logging.Logger("fabricca")

// Config configures a Client.
type Config struct {
	// URL is the CA base URL, e.g. https://localhost:7054.
	URL string
	// CAName selects the CA when the server hosts several.
	CAName string
	// TLSRootsPEM are the trusted roots of the CA TLS certificate.
	TLSRootsPEM []byte
	// InsecureSkipVerify disables TLS verification of the CA.
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client talks to a Fabric CA server. It implements identity.CA.
type Client struct {
	baseURL string
	caName  string
	http    *http.Client
}

var _ identity.CA = (*Client)(nil)

// New returns a new Client.
func New(conf Config) (*Client, error) {
	if conf.URL == "" {
		return nil, errors.New("ca url is empty")
	}
	if conf.Timeout == 0 {
		conf.Timeout = defaultTimeout
	}
	tlsConf := &tls.Config{InsecureSkipVerify: conf.InsecureSkipVerify} // nolint:gosec
	if len(conf.TLSRootsPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(conf.TLSRootsPEM) {
			return nil, errors.New("no valid certificates in tls roots")
		}
		tlsConf.RootCAs = pool
	}
	return &Client{
		baseURL: strings.TrimSuffix(conf.URL, "/"),
		caName:  conf.CAName,
		http: &http.Client{
			Timeout:   conf.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConf},
		},
	}, nil
}

type enrollRequest struct {
	CertificateRequest string `json:"certificate_request"`
	CAName             string `json:"caname,omitempty"`
}

type enrollResult struct {
	Cert string `json:"Cert"`
}

type registerRequest struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Affiliation    string `json:"affiliation"`
	MaxEnrollments int    `json:"max_enrollments"`
	CAName         string `json:"caname,omitempty"`
}

type registerResult struct {
	Secret string `json:"secret"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []apiMessage    `json:"errors"`
}

// Enroll generates a fresh P-256 key, sends its CSR to the CA and returns the signed
// certificate together with the PEM encoded key.
func (c *Client) Enroll(ctx context.Context, req identity.EnrollmentRequest) (identity.Enrollment, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return identity.Enrollment{}, fmt.Errorf("generating key: %v", err)
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: req.EnrollmentID},
	}, key)
	if err != nil {
		return identity.Enrollment{}, fmt.Errorf("creating csr: %v", err)
	}
	body, err := json.Marshal(enrollRequest{
		CertificateRequest: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csr})),
		CAName:             c.caName,
	})
	if err != nil {
		return identity.Enrollment{}, fmt.Errorf("marshaling enroll request: %v", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+enrollPath, bytes.NewReader(body))
	if err != nil {
		return identity.Enrollment{}, fmt.Errorf("creating enroll request: %v", err)
	}
	hreq.SetBasicAuth(req.EnrollmentID, req.Secret)

	var res enrollResult
	if err := c.do(hreq, &res); err != nil {
		return identity.Enrollment{}, fmt.Errorf("enrolling %s: %w", req.EnrollmentID, err)
	}
	certPEM, err := base64.StdEncoding.DecodeString(res.Cert)
	if err != nil {
		return identity.Enrollment{}, fmt.Errorf("decoding enrollment certificate: %v", err)
	}
	if _, err := identity.ParseCertificate(certPEM); err != nil {
		return identity.Enrollment{}, fmt.Errorf("invalid enrollment certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return identity.Enrollment{}, fmt.Errorf("marshaling private key: %v", err)
	}
	log.Debugf("enrolled %s", req.EnrollmentID)
	return identity.Enrollment{
		CertificatePEM: string(certPEM),
		PrivateKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
	}, nil
}

// Register registers a new identity using registrar's credential for authorization.
func (c *Client) Register(
	ctx context.Context,
	registrar identity.Credential,
	req identity.RegistrationRequest) (string, error) {
	body, err := json.Marshal(registerRequest{
		ID:             req.EnrollmentID,
		Type:           req.Role,
		Affiliation:    req.Affiliation,
		MaxEnrollments: -1,
		CAName:         c.caName,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling register request: %v", err)
	}
	token, err := AuthToken(registrar, http.MethodPost, registerPath, body)
	if err != nil {
		return "", fmt.Errorf("creating auth token: %v", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating register request: %v", err)
	}
	hreq.Header.Set("Authorization", token)

	var res registerResult
	if err := c.do(hreq, &res); err != nil {
		return "", fmt.Errorf("registering %s: %w", req.EnrollmentID, err)
	}
	if res.Secret == "" {
		return "", errors.New("ca returned an empty enrollment secret")
	}
	log.Debugf("registered %s in %s", req.EnrollmentID, req.Affiliation)
	return res.Secret, nil
}

func (c *Client) do(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %v", err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Errorf("closing response body: %s", err)
		}
	}()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response: %v", err)
	}
	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return fmt.Errorf("unmarshaling response (status %d): %v", res.StatusCode, err)
	}
	if !ar.Success || res.StatusCode != http.StatusOK {
		msgs := make([]string, len(ar.Errors))
		for i, e := range ar.Errors {
			msgs[i] = fmt.Sprintf("%d: %s", e.Code, e.Message)
		}
		return fmt.Errorf("ca request failed with status %d: %s", res.StatusCode, strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(ar.Result, result); err != nil {
		return fmt.Errorf("unmarshaling result: %v", err)
	}
	return nil
}

// AuthToken returns the token authorizing a CA request on behalf of cred:
// b64(cert).b64(sig) where sig covers method.b64(uri).b64(body).b64(cert).
func AuthToken(cred identity.Credential, method, uri string, body []byte) (string, error) {
	signer, err := cred.Signer()
	if err != nil {
		return "", err
	}
	b64Cert := base64.StdEncoding.EncodeToString([]byte(cred.Credentials.Certificate))
	payload := TokenPayload(method, uri, body, b64Cert)
	sig, err := identity.Sign(signer, payload)
	if err != nil {
		return "", err
	}
	return b64Cert + "." + base64.StdEncoding.EncodeToString(sig), nil
}

// TokenPayload returns the signed part of an auth token.
func TokenPayload(method, uri string, body []byte, b64Cert string) []byte {
	return []byte(strings.Join([]string{
		method,
		base64.StdEncoding.EncodeToString([]byte(uri)),
		base64.StdEncoding.EncodeToString(body),
		b64Cert,
	}, "."))
}
