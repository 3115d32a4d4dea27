package auction

import (
	"errors"
	"fmt"
	"sort"
)

// AuctionID is the creator-assigned identifier of an auction.
type AuctionID string

// BidID identifies a bid. It is the transaction id of the CreateBid write.
type BidID string

// OrgID is the MSP identifier of an organization.
type OrgID string

// Status is the status of an auction.
type Status string

const (
	// StatusOpen indicates the auction accepts bids.
	StatusOpen Status = "OPEN"
	// StatusClosed indicates the auction ended. It's terminal.
	StatusClosed Status = "CLOSED"
)

// Visibility describes who can see a bid's price and bidder.
type Visibility int

const (
	// VisibilityUnspecified is the zero value.
	VisibilityUnspecified Visibility = iota
	// VisibilityPrivate means the bid only lives in the bidder's organization partition.
	VisibilityPrivate
	// VisibilitySubmitted means a commitment of the bid was recorded on the shared ledger.
	VisibilitySubmitted
	// VisibilityRevealed means price and bidder are public.
	VisibilityRevealed
)

// String returns a string-encoded visibility.
func (v Visibility) String() string {
	switch v {
	case VisibilityUnspecified:
		return "UNSPECIFIED"
	case VisibilityPrivate:
		return "PRIVATE"
	case VisibilitySubmitted:
		return "SUBMITTED"
	case VisibilityRevealed:
		return "REVEALED"
	default:
		return "INVALID"
	}
}

// MarshalText encodes the visibility by name.
func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

const (
	auctionObjectType = "auction"
	bidObjectType     = "bid"
)

// Auction is the public ledger record of an auction.
type Auction struct {
	Type          string             `json:"objectType"`
	ID            AuctionID          `json:"id"`
	Item          string             `json:"item"`
	Seller        string             `json:"seller"`
	Organizations []OrgID            `json:"organizations"`
	PrivateBids   map[string]BidHash `json:"privateBids"`
	RevealedBids  map[string]FullBid `json:"revealedBids"`
	Winner        string             `json:"winner"`
	Price         int64              `json:"price"`
	Status        Status             `json:"status"`
}

// NewAuction returns an open auction with no participating organizations.
func NewAuction(id AuctionID, item, seller string) Auction {
	return Auction{
		Type:          auctionObjectType,
		ID:            id,
		Item:          item,
		Seller:        seller,
		Organizations: []OrgID{},
		PrivateBids:   map[string]BidHash{},
		RevealedBids:  map[string]FullBid{},
		Status:        StatusOpen,
	}
}

// HasOrganization returns true if org already participates in the auction.
func (a Auction) HasOrganization(org OrgID) bool {
	for _, o := range a.Organizations {
		if o == org {
			return true
		}
	}
	return false
}

// Visibility returns the visibility of a bid as recorded on the public auction.
// Bids unknown to the auction are private.
func (a Auction) Visibility(auctionID AuctionID, bidID BidID) Visibility {
	key := BidKey(auctionID, bidID)
	if _, ok := a.RevealedBids[key]; ok {
		return VisibilityRevealed
	}
	if _, ok := a.PrivateBids[key]; ok {
		return VisibilitySubmitted
	}
	return VisibilityPrivate
}

// HighestRevealedBid returns the key and value of the highest revealed bid. Ties are
// resolved in favor of the smallest bid key, so every peer computes the same result.
func (a Auction) HighestRevealedBid() (string, FullBid, bool) {
	keys := make([]string, 0, len(a.RevealedBids))
	for k := range a.RevealedBids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		winnerKey string
		winner    FullBid
		found     bool
	)
	for _, k := range keys {
		b := a.RevealedBids[k]
		if !found || b.Price > winner.Price {
			winnerKey, winner, found = k, b, true
		}
	}
	return winnerKey, winner, found
}

// BidHash is the public commitment of a submitted bid.
type BidHash struct {
	Org  OrgID  `json:"org"`
	Hash string `json:"hash"`
}

// FullBid is the bid record kept in the bidder's private partition and, after
// reveal, on the public auction.
type FullBid struct {
	Type   string `json:"objectType"`
	Price  int64  `json:"price"`
	Org    OrgID  `json:"org"`
	Bidder string `json:"bidder"`
}

// Validate checks the bid fields.
func (b FullBid) Validate() error {
	if b.Price < 0 {
		return ErrNegativePrice
	}
	if b.Org == "" {
		return errors.New("bid org is empty")
	}
	if b.Bidder == "" {
		return errors.New("bid bidder is empty")
	}
	return nil
}

// Bid is a bid as seen by its owner.
type Bid struct {
	ID         BidID      `json:"id"`
	AuctionID  AuctionID  `json:"auctionId"`
	Org        OrgID      `json:"org"`
	Bidder     string     `json:"bidder"`
	Price      int64      `json:"price"`
	Visibility Visibility `json:"visibility"`
}

// BidKey returns the key under which a bid is tracked, both in private
// partitions and in the auction's bid maps.
func BidKey(auctionID AuctionID, bidID BidID) string {
	return fmt.Sprintf("%s/%s", auctionID, bidID)
}
