package identity

import "sort"

// MaxCon bounds the number of conjuncts a policy may carry, far in excess
// of any real use; it exists only to keep the hash index encoding in
// deriveHash within a u64 without ambiguity.
const MaxCon = (^uint64(0) - 1) / 2

// Policy is a timestamped conjunction of attributes. Con is logically a
// set: canonicalization sorts it before it is ever hashed, so two
// policies that differ only in conjunct order are equivalent.
type Policy struct {
	Timestamp uint64      `json:"ts"`
	Con       []Attribute `json:"con"`
}

// EncryptionPolicy maps recipient identifiers (free-form strings, typically
// email addresses) onto the policy they must satisfy to decrypt.
type EncryptionPolicy map[string]Policy

// Identifiers returns the recipient identifiers in sorted order, giving
// EncryptionPolicy a deterministic iteration order wherever one is needed
// (header construction, multi-recipient tests).
func (ep EncryptionPolicy) Identifiers() []string {
	ids := make([]string, 0, len(ep))
	for id := range ep {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// canonical returns a copy of p with Con sorted ascending by Attribute.Less.
func (p Policy) canonical() Policy {
	con := make([]Attribute, len(p.Con))
	copy(con, p.Con)
	sort.Slice(con, func(i, j int) bool { return con[i].Less(con[j]) })
	return Policy{Timestamp: p.Timestamp, Con: con}
}

// Equal reports structural equality up to conjunct order.
func (p Policy) Equal(other Policy) bool {
	if p.Timestamp != other.Timestamp || len(p.Con) != len(other.Con) {
		return false
	}
	a, b := p.canonical(), other.canonical()
	for i := range a.Con {
		if !a.Con[i].Equal(b.Con[i]) {
			return false
		}
	}
	return true
}
