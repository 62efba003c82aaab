package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DorAlter/postguard/pkg/identity"
)

// parsePolicy parses a comma-separated conjunct list ("type=value,type2=value2")
// into a Policy. A bare type with no "=value" leaves that conjunct's Value
// nil (unconstrained). timestamp, if empty, defaults to now.
func parsePolicy(spec string, timestamp string) (identity.Policy, error) {
	var ts uint64
	if timestamp == "" {
		ts = uint64(time.Now().Unix())
	} else {
		parsed, err := strconv.ParseUint(timestamp, 10, 64)
		if err != nil {
			return identity.Policy{}, fmt.Errorf("invalid --timestamp %q: %w", timestamp, err)
		}
		ts = parsed
	}

	spec = strings.TrimSpace(spec)
	if spec == "" {
		return identity.Policy{Timestamp: ts}, nil
	}

	parts := strings.Split(spec, ",")
	con := make([]identity.Attribute, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			t, v := part[:idx], part[idx+1:]
			con = append(con, identity.NewAttribute(t, &v))
		} else {
			con = append(con, identity.NewAttribute(part, nil))
		}
	}
	return identity.Policy{Timestamp: ts, Con: con}, nil
}

func parseRecipients(specs []string, timestamp string) (identity.EncryptionPolicy, error) {
	ep := make(identity.EncryptionPolicy, len(specs))
	for _, spec := range specs {
		idx := strings.IndexByte(spec, ':')
		if idx < 0 {
			return nil, fmt.Errorf("malformed --to %q: expected id:type=value,...", spec)
		}
		id, rest := spec[:idx], spec[idx+1:]
		pol, err := parsePolicy(rest, timestamp)
		if err != nil {
			return nil, fmt.Errorf("--to %q: %w", spec, err)
		}
		ep[id] = pol
	}
	return ep, nil
}
