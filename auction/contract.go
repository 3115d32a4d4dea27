package auction

// Functions of the auction contract.
const (
	FnCreateAuction               = "CreateAuction"
	FnQueryAuction                = "QueryAuction"
	FnCreateBid                   = "CreateBid"
	FnQueryBid                    = "QueryBid"
	FnSubmitBid                   = "SubmitBid"
	FnRevealBid                   = "RevealBid"
	FnEndAuction                  = "EndAuction"
	FnGetSubmittingClientIdentity = "GetSubmittingClientIdentity"
)

// IsKnown returns true for functions of the auction contract.
func IsKnown(fn string) bool {
	switch fn {
	case FnCreateAuction, FnQueryAuction, FnCreateBid, FnQueryBid,
		FnSubmitBid, FnRevealBid, FnEndAuction, FnGetSubmittingClientIdentity:
		return true
	default:
		return false
	}
}

// IsReadOnly returns true for contract functions that don't write state.
func IsReadOnly(fn string) bool {
	switch fn {
	case FnQueryAuction, FnQueryBid, FnGetSubmittingClientIdentity:
		return true
	default:
		return false
	}
}
