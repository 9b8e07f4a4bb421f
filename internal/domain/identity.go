package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// IFI returns the inverse functional identifier set on a, as (kind, value),
// and how many identifiers are set.
func (a Agent) IFI() (kind string, value string, count int) {
	if a.Mbox != "" {
		kind, value = "mbox", a.Mbox
		count++
	}
	if a.MboxSHA1Sum != "" {
		kind, value = "mbox_sha1sum", a.MboxSHA1Sum
		count++
	}
	if a.OpenID != "" {
		kind, value = "openid", a.OpenID
		count++
	}
	if a.Account != nil {
		kind, value = "account", a.Account.HomePage+" "+a.Account.Name
		count++
	}
	return kind, value, count
}

// TypeName is "Group" for groups and "Agent" otherwise.
func (a Agent) TypeName() string {
	if a.IsGroup() {
		return "Group"
	}
	return "Agent"
}

// IdentityKey is the canonical, unambiguous key under which an agent is
// stored once. Identified agents and groups key on their identifier; an
// anonymous group keys on its name and the sorted keys of its members.
func (a Agent) IdentityKey() (string, error) {
	if err := a.Validate("agent"); err != nil {
		return "", err
	}
	return a.identityKey(), nil
}

func (a Agent) identityKey() string {
	parts := []string{a.TypeName()}
	switch {
	case a.Account != nil:
		parts = append(parts, "account", a.Account.HomePage, a.Account.Name)
	case a.Mbox != "":
		parts = append(parts, "mbox", a.Mbox)
	case a.MboxSHA1Sum != "":
		parts = append(parts, "mbox_sha1sum", strings.ToLower(a.MboxSHA1Sum))
	case a.OpenID != "":
		parts = append(parts, "openid", a.OpenID)
	default:
		members := make([]string, 0, len(a.Member))
		for _, m := range a.Member {
			members = append(members, m.identityKey())
		}
		sort.Strings(members)
		members = dedupSorted(members)
		parts = append(parts, "anonymous", a.Name)
		parts = append(parts, members...)
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

func dedupSorted(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i > 0 && s == in[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}
