package identity

import (
	"testing"
)

func strp(s string) *string { return &s }

func TestDeriveIBEOrderIndependent(t *testing.T) {
	a := Policy{Timestamp: 100, Con: []Attribute{
		{Type: "email", Value: strp("alice@example.org")},
		{Type: "role", Value: strp("admin")},
	}}
	b := Policy{Timestamp: 100, Con: []Attribute{
		{Type: "role", Value: strp("admin")},
		{Type: "email", Value: strp("alice@example.org")},
	}}

	idA, err := a.DeriveIBE()
	if err != nil {
		t.Fatalf("DeriveIBE(a): %v", err)
	}
	idB, err := b.DeriveIBE()
	if err != nil {
		t.Fatalf("DeriveIBE(b): %v", err)
	}
	if idA != idB {
		t.Fatalf("conjunct order changed the derived identity: %x != %x", idA, idB)
	}
}

func TestDeriveIBETimestampSensitive(t *testing.T) {
	a := Policy{Timestamp: 100, Con: []Attribute{{Type: "email", Value: strp("alice@example.org")}}}
	b := Policy{Timestamp: 200, Con: []Attribute{{Type: "email", Value: strp("alice@example.org")}}}

	idA, err := a.DeriveIBE()
	if err != nil {
		t.Fatalf("DeriveIBE(a): %v", err)
	}
	idB, err := b.DeriveIBE()
	if err != nil {
		t.Fatalf("DeriveIBE(b): %v", err)
	}
	if idA == idB {
		t.Fatalf("different timestamps produced the same identity")
	}
}

func TestDeriveIBEUnsetValueDistinctFromEmpty(t *testing.T) {
	unset := Policy{Timestamp: 1, Con: []Attribute{{Type: "role", Value: nil}}}
	empty := Policy{Timestamp: 1, Con: []Attribute{{Type: "role", Value: strp("")}}}

	idUnset, err := unset.DeriveIBE()
	if err != nil {
		t.Fatalf("DeriveIBE(unset): %v", err)
	}
	idEmpty, err := empty.DeriveIBE()
	if err != nil {
		t.Fatalf("DeriveIBE(empty): %v", err)
	}
	if idUnset == idEmpty {
		t.Fatalf("an unset value collided with an explicit empty-string value")
	}
}

func TestDeriveIBEAndIBSDiffer(t *testing.T) {
	p := Policy{Timestamp: 1, Con: []Attribute{{Type: "email", Value: strp("alice@example.org")}}}
	ibeID, err := p.DeriveIBE()
	if err != nil {
		t.Fatalf("DeriveIBE: %v", err)
	}
	ibsID, err := p.DeriveIBS()
	if err != nil {
		t.Fatalf("DeriveIBS: %v", err)
	}
	if [32]byte(ibeID) == [32]byte(ibsID) {
		t.Fatalf("IBE and IBS identities must diverge (different domain hash reduction)")
	}
}

func TestDeriveIBESmallPolicyAccepted(t *testing.T) {
	p := Policy{Timestamp: 1, Con: []Attribute{{Type: "a"}, {Type: "b"}, {Type: "c"}}}
	if _, err := p.DeriveIBE(); err != nil {
		t.Fatalf("small policy unexpectedly rejected: %v", err)
	}
}

func TestHintifyPartiallyRedactsHintedTypes(t *testing.T) {
	p := Policy{Timestamp: 1, Con: []Attribute{
		{Type: "pbdf.sidn-pbdf.mobilenumber.mobilenumber", Value: strp("0612345678")},
		{Type: "email", Value: strp("alice@example.org")},
	}}
	hp := p.ToHidden()
	if len(hp.Con) != 2 {
		t.Fatalf("expected 2 conjuncts, got %d", len(hp.Con))
	}
	for _, a := range hp.Con {
		if a.Type == "pbdf.sidn-pbdf.mobilenumber.mobilenumber" {
			if a.HiddenValue == nil || *a.HiddenValue != "061234****" {
				t.Fatalf("expected partial hint, got %v", a.HiddenValue)
			}
		}
		if a.Type == "email" {
			if a.HiddenValue == nil || *a.HiddenValue != "" {
				t.Fatalf("expected full redaction for non-hinted type, got %v", a.HiddenValue)
			}
		}
	}
}
