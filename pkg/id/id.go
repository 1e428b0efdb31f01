// Package id mints opaque, sortable correlation identifiers for
// internal bookkeeping (signaling session tokens, log correlation)
// that are distinct from the caller-supplied device/client identifiers
// carried in the URL path.
package id

import "github.com/rs/xid"

type ID string

const Empty ID = ""

func New() ID { return ID(xid.New().String()) }

func Valid(i ID) bool {
	_, err := xid.FromString(string(i))
	return err == nil
}

func (i ID) String() string { return string(i) }

// Short returns an abbreviated form suitable for log lines.
func (i ID) Short() string {
	s := string(i)
	if len(s) < 7 {
		return s
	}
	return s[:3] + "." + s[len(s)-3:]
}
