// SPDX-License-Identifier: ISC
// Copyright (c) 2019-2022 Sectionnet Developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package membership

import (
	"sort"

	"github.com/sectionnet/sectiond/keyshare"
	"github.com/sectionnet/sectiond/knowledge"
	"github.com/sectionnet/sectiond/xorname"
)

// RelocationCandidates - members due for relocation after a churn
//
// a member relocates when the churn name agrees with its own name in
// at least age leading bits, so older nodes move exponentially more
// rarely than young ones
func RelocationCandidates(sap knowledge.SAP, churn xorname.Name) []knowledge.MemberInfo {
	candidates := []knowledge.MemberInfo{}
	for name, member := range sap.Members {
		if knowledge.StateJoined != member.State {
			continue
		}
		if name == churn {
			continue
		}
		if xorname.CommonPrefixLen(name, churn) >= uint(member.Age()) {
			candidates = append(candidates, member)
		}
	}
	sort.Slice(candidates, func(i int, j int) bool {
		return candidates[i].Name.Compare(candidates[j].Name) < 0
	})
	return candidates
}

// RelocationDetails - where a candidate goes: towards the churn name,
// one age older
func RelocationDetails(member knowledge.MemberInfo, churn xorname.Name, destinationKey keyshare.PublicKey) knowledge.Relocation {
	return knowledge.Relocation{
		PreviousName:   member.Name,
		Destination:    churn,
		DestinationKey: destinationKey,
		Age:            member.Age() + 1,
	}
}

// ElderCandidates - the members that should form the next elder set:
// the oldest joined members, ties broken by name, capped at the elder
// count; returned sorted by name for use as a generation's candidate
// list
func ElderCandidates(sap knowledge.SAP) []xorname.Name {
	members := []knowledge.MemberInfo{}
	for _, member := range sap.Members {
		if knowledge.StateJoined == member.State {
			members = append(members, member)
		}
	}
	sort.Slice(members, func(i int, j int) bool {
		if members[i].Age() != members[j].Age() {
			return members[i].Age() > members[j].Age()
		}
		return members[i].Name.Compare(members[j].Name) < 0
	})

	count := knowledge.ElderCount
	if len(members) < count {
		count = len(members)
	}
	names := make([]xorname.Name, count)
	for i := 0; i < count; i += 1 {
		names[i] = members[i].Name
	}
	sort.Slice(names, func(i int, j int) bool {
		return names[i].Compare(names[j]) < 0
	})
	return names
}
