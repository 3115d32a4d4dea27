package auction

// SelectEndorsers returns the organizations that must endorse a write touching the
// auction. Every organization with a submitted bid co-signs: one organization endorses
// alone and two organizations endorse together. Auctions without organizations are
// written under the channel default policy, so there's nothing to select for them.
func SelectEndorsers(a Auction) ([]OrgID, error) {
	switch len(a.Organizations) {
	case 0:
		return nil, ErrNoOrganizations
	case 1:
		return []OrgID{a.Organizations[0]}, nil
	case 2:
		return []OrgID{a.Organizations[0], a.Organizations[1]}, nil
	default:
		return nil, ErrTooManyOrganizations
	}
}

// SameOrgs returns true if both lists hold the same set of organizations.
func SameOrgs(a, b []OrgID) bool {
	set := make(map[OrgID]int, len(a))
	for _, o := range a {
		set[o]++
	}
	for _, o := range b {
		if set[o] == 0 {
			return false
		}
		set[o]--
	}
	for _, n := range set {
		if n != 0 {
			return false
		}
	}
	return true
}
