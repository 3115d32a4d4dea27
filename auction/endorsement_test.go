package auction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectEndorsers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		orgs []OrgID
		want []OrgID
		err  error
	}{
		{name: "single org", orgs: []OrgID{"Org1MSP"}, want: []OrgID{"Org1MSP"}},
		{name: "other single org", orgs: []OrgID{"Org2MSP"}, want: []OrgID{"Org2MSP"}},
		{name: "two orgs", orgs: []OrgID{"Org1MSP", "Org2MSP"}, want: []OrgID{"Org1MSP", "Org2MSP"}},
		{name: "two orgs keep recorded order", orgs: []OrgID{"Org2MSP", "Org1MSP"}, want: []OrgID{"Org2MSP", "Org1MSP"}},
		{name: "no orgs", orgs: []OrgID{}, err: ErrNoOrganizations},
		{name: "three orgs", orgs: []OrgID{"Org1MSP", "Org2MSP", "Org3MSP"}, err: ErrTooManyOrganizations},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewAuction("1001", "vase", "seller")
			a.Organizations = tt.orgs
			got, err := SelectEndorsers(a)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSelectEndorsersDoesNotAlias(t *testing.T) {
	t.Parallel()

	a := NewAuction("1001", "vase", "seller")
	a.Organizations = []OrgID{"Org1MSP", "Org2MSP"}
	got, err := SelectEndorsers(a)
	require.NoError(t, err)
	got[0] = "Org3MSP"
	require.Equal(t, OrgID("Org1MSP"), a.Organizations[0])
}

func TestSameOrgs(t *testing.T) {
	t.Parallel()

	require.True(t, SameOrgs([]OrgID{"a", "b"}, []OrgID{"b", "a"}))
	require.True(t, SameOrgs(nil, []OrgID{}))
	require.False(t, SameOrgs([]OrgID{"a"}, []OrgID{"a", "b"}))
	require.False(t, SameOrgs([]OrgID{"a", "a"}, []OrgID{"a", "b"}))
	require.False(t, SameOrgs([]OrgID{"a", "b"}, []OrgID{"a"}))
}
