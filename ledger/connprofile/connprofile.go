package connprofile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// OrgPlaceholder is replaced by the organization name in path templates.
const OrgPlaceholder = "{org}"

// Profile describes how to reach the peers and certificate authorities of a network
// from the point of view of one organization.
type Profile struct {
	Name                   string                          `mapstructure:"name"`
	Version                string                          `mapstructure:"version"`
	Client                 Client                          `mapstructure:"client"`
	Organizations          map[string]Organization         `mapstructure:"organizations"`
	Peers                  map[string]Peer                 `mapstructure:"peers"`
	CertificateAuthorities map[string]CertificateAuthority `mapstructure:"certificateauthorities"`
}

// Client holds client-side settings.
type Client struct {
	Organization string `mapstructure:"organization"`
}

// Organization lists the peers and CAs of an organization.
type Organization struct {
	MSPID                  string   `mapstructure:"mspid"`
	Peers                  []string `mapstructure:"peers"`
	CertificateAuthorities []string `mapstructure:"certificateauthorities"`
}

// TLSCerts holds PEM encoded certificates, either as a single string or a list.
type TLSCerts struct {
	PEM interface{} `mapstructure:"pem"`
}

// Bytes returns the concatenated PEM blocks.
func (c TLSCerts) Bytes() []byte {
	switch v := c.PEM.(type) {
	case string:
		return []byte(v)
	case []interface{}:
		var b strings.Builder
		for _, s := range v {
			if str, ok := s.(string); ok {
				b.WriteString(str)
				if !strings.HasSuffix(str, "\n") {
					b.WriteString("\n")
				}
			}
		}
		return []byte(b.String())
	default:
		return nil
	}
}

// Peer is a ledger peer endpoint.
type Peer struct {
	URL        string   `mapstructure:"url"`
	TLSCACerts TLSCerts `mapstructure:"tlscacerts"`
}

// HTTPOptions are CA HTTP client options.
type HTTPOptions struct {
	Verify bool `mapstructure:"verify"`
}

// CertificateAuthority is a CA endpoint.
type CertificateAuthority struct {
	URL         string      `mapstructure:"url"`
	CAName      string      `mapstructure:"caname"`
	TLSCACerts  TLSCerts    `mapstructure:"tlscacerts"`
	HTTPOptions HTTPOptions `mapstructure:"httpoptions"`
}

// Load reads a JSON or YAML connection profile.
func Load(path string) (Profile, error) {
	// Peer and CA names contain dots, so they can't be viper's key delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Profile{}, fmt.Errorf("reading connection profile %s: %v", path, err)
	}
	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return Profile{}, fmt.Errorf("decoding connection profile %s: %v", path, err)
	}
	if len(p.Organizations) == 0 {
		return Profile{}, fmt.Errorf("connection profile %s has no organizations", path)
	}
	return p, nil
}

// PathFor expands the organization placeholder of a path template.
func PathFor(template, org string) string {
	return strings.ReplaceAll(template, OrgPlaceholder, strings.ToLower(org))
}

// Organization returns an organization by name, ignoring case.
func (p Profile) Organization(name string) (Organization, error) {
	for k, o := range p.Organizations {
		if strings.EqualFold(k, name) {
			return o, nil
		}
	}
	return Organization{}, fmt.Errorf("organization %s not found in connection profile", name)
}

// PeerEndpoints returns the peers of an organization in profile order.
func (p Profile) PeerEndpoints(org string) ([]Peer, error) {
	o, err := p.Organization(org)
	if err != nil {
		return nil, err
	}
	peers := make([]Peer, 0, len(o.Peers))
	for _, name := range o.Peers {
		peer, ok := lookupPeer(p.Peers, name)
		if !ok {
			return nil, fmt.Errorf("peer %s of %s not found in connection profile", name, org)
		}
		if peer.URL == "" {
			return nil, fmt.Errorf("peer %s has no url", name)
		}
		peers = append(peers, peer)
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("organization %s has no peers", org)
	}
	return peers, nil
}

// CA returns the first certificate authority of an organization.
func (p Profile) CA(org string) (CertificateAuthority, error) {
	o, err := p.Organization(org)
	if err != nil {
		return CertificateAuthority{}, err
	}
	if len(o.CertificateAuthorities) == 0 {
		return CertificateAuthority{}, fmt.Errorf("organization %s has no certificate authorities", org)
	}
	ca, ok := lookupCA(p.CertificateAuthorities, o.CertificateAuthorities[0])
	if !ok {
		return CertificateAuthority{}, fmt.Errorf("certificate authority %s not found", o.CertificateAuthorities[0])
	}
	if ca.URL == "" {
		return CertificateAuthority{}, errors.New("certificate authority has no url")
	}
	return ca, nil
}

func lookupPeer(m map[string]Peer, name string) (Peer, bool) {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return Peer{}, false
}

func lookupCA(m map[string]CertificateAuthority, name string) (CertificateAuthority, bool) {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return CertificateAuthority{}, false
}
