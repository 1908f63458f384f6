package models

import "fmt"

// AllScopes selects every scope known to a family in batch operations.
const AllScopes = "all"

// Family identifies one of the entity families that share the resolution pipeline.
type Family string

const (
	FamilyBodyMember   Family = "body_member"
	FamilyGroupMember  Family = "group_member"
	FamilyVoteJudgment Family = "vote_judgment"
)

// FamilyTables names the tables backing a family.
type FamilyTables struct {
	Candidates   string
	Affiliations string
	Registry     string
}

var familyTables = map[Family]FamilyTables{
	FamilyBodyMember: {
		Candidates:   "body_member_candidates",
		Affiliations: "body_memberships",
		Registry:     "politicians",
	},
	FamilyGroupMember: {
		Candidates:   "group_member_candidates",
		Affiliations: "group_memberships",
		Registry:     "politicians",
	},
	FamilyVoteJudgment: {
		Candidates:   "vote_judgment_candidates",
		Affiliations: "proposal_judgments",
		Registry:     "parliamentary_groups",
	},
}

// Families lists all supported families.
var Families = []Family{FamilyBodyMember, FamilyGroupMember, FamilyVoteJudgment}

// ParseFamily validates a family name.
func ParseFamily(s string) (Family, error) {
	f := Family(s)
	if _, ok := familyTables[f]; !ok {
		return "", fmt.Errorf("unknown entity family %q", s)
	}
	return f, nil
}

// Tables returns the table names for the family. Unknown families panic since
// every caller is expected to have gone through ParseFamily.
func (f Family) Tables() FamilyTables {
	t, ok := familyTables[f]
	if !ok {
		panic(fmt.Sprintf("unknown entity family %q", string(f)))
	}
	return t
}

func (f Family) String() string {
	return string(f)
}
