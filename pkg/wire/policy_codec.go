package wire

import "github.com/DorAlter/postguard/pkg/identity"

// MarshalPolicy serializes a Policy to its deterministic wire form.
func MarshalPolicy(p identity.Policy) []byte {
	e := &encoder{}
	e.u64(p.Timestamp)
	e.u32(uint32(len(p.Con)))
	for _, a := range p.Con {
		e.str(a.Type)
		e.optionalStr(a.Value)
	}
	return e.buf
}

// UnmarshalPolicy parses the form MarshalPolicy produces.
func UnmarshalPolicy(b []byte) (identity.Policy, error) {
	d := newDecoder(b)
	ts, err := d.u64()
	if err != nil {
		return identity.Policy{}, err
	}
	n, err := d.u32()
	if err != nil {
		return identity.Policy{}, err
	}
	con := make([]identity.Attribute, 0, n)
	for i := uint32(0); i < n; i++ {
		atype, err := d.str()
		if err != nil {
			return identity.Policy{}, err
		}
		value, err := d.optionalStr()
		if err != nil {
			return identity.Policy{}, err
		}
		con = append(con, identity.Attribute{Type: atype, Value: value})
	}
	return identity.Policy{Timestamp: ts, Con: con}, nil
}

// MarshalHiddenPolicy serializes a HiddenPolicy to its deterministic wire form.
func MarshalHiddenPolicy(p identity.HiddenPolicy) []byte {
	e := &encoder{}
	e.u64(p.Timestamp)
	e.u32(uint32(len(p.Con)))
	for _, a := range p.Con {
		e.str(a.Type)
		e.optionalStr(a.HiddenValue)
	}
	return e.buf
}

// UnmarshalHiddenPolicy parses the form MarshalHiddenPolicy produces.
func UnmarshalHiddenPolicy(b []byte) (identity.HiddenPolicy, error) {
	d := newDecoder(b)
	ts, err := d.u64()
	if err != nil {
		return identity.HiddenPolicy{}, err
	}
	n, err := d.u32()
	if err != nil {
		return identity.HiddenPolicy{}, err
	}
	con := make([]identity.HiddenAttribute, 0, n)
	for i := uint32(0); i < n; i++ {
		atype, err := d.str()
		if err != nil {
			return identity.HiddenPolicy{}, err
		}
		hv, err := d.optionalStr()
		if err != nil {
			return identity.HiddenPolicy{}, err
		}
		con = append(con, identity.HiddenAttribute{Type: atype, HiddenValue: hv})
	}
	return identity.HiddenPolicy{Timestamp: ts, Con: con}, nil
}
