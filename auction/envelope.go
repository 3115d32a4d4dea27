package auction

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EnvelopeKey is the transient map key carrying bid data.
const EnvelopeKey = "bid"

// Transient is data attached to a write that reaches the endorsing organizations
// but is never persisted to public ledger state.
type Transient map[string][]byte

// BuildBidEnvelope returns the hidden payload of CreateBid and RevealBid writes.
// Price and bidder only travel inside it.
func BuildBidEnvelope(price int64, org OrgID, bidder string) (Transient, error) {
	b := FullBid{
		Type:   bidObjectType,
		Price:  price,
		Org:    org,
		Bidder: bidder,
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bid envelope: %w", err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshaling bid envelope: %v", err)
	}
	return Transient{EnvelopeKey: data}, nil
}

// EnvelopeFromBid rebuilds the envelope of a bid read back from its private record.
// The payload is byte-identical to the one built at creation time, so it matches
// the commitment recorded by SubmitBid.
func EnvelopeFromBid(b FullBid) (Transient, error) {
	return BuildBidEnvelope(b.Price, b.Org, b.Bidder)
}

// ParseBidEnvelope extracts the bid carried by a transient map. The raw bytes are
// returned along with the decoded bid since commitments are computed over them.
func ParseBidEnvelope(t Transient) (FullBid, []byte, error) {
	data, ok := t[EnvelopeKey]
	if !ok {
		return FullBid{}, nil, errors.New("bid key not found in the transient map")
	}
	if len(data) == 0 {
		return FullBid{}, nil, errors.New("bid value in the transient map is empty")
	}
	var b FullBid
	if err := json.Unmarshal(data, &b); err != nil {
		return FullBid{}, nil, fmt.Errorf("unmarshaling bid envelope: %v", err)
	}
	if b.Type != bidObjectType {
		return FullBid{}, nil, fmt.Errorf("unexpected envelope object type %q", b.Type)
	}
	if err := b.Validate(); err != nil {
		return FullBid{}, nil, fmt.Errorf("invalid bid envelope: %w", err)
	}
	return b, data, nil
}
