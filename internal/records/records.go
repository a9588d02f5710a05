// Package records holds the tenant-owned record domains (residents,
// households, accounts) that transfers re-parent. Only the owning tenant of
// a record is ever changed from outside its domain.
package records

import (
	"fmt"

	id "nexus/pkg/domain"
)

// Kind names a record domain.
type Kind string

const (
	KindResident  Kind = "resident"
	KindHousehold Kind = "household"
	KindAccount   Kind = "account"
)

// Record is the part of a domain row the transfer workflow reads or writes.
type Record struct {
	ID          string
	TenantID    id.TenantID
	DisplayName string
}

// Table describes where a kind lives in PostgreSQL.
type Table struct {
	Name          string
	DisplayColumn string
}

var tables = map[Kind]Table{
	KindResident:  {Name: "residents", DisplayColumn: "full_name"},
	KindHousehold: {Name: "households", DisplayColumn: "address"},
	KindAccount:   {Name: "accounts", DisplayColumn: "account_name"},
}

// TableFor returns the table backing kind. Table and column names come from
// this fixed map and are safe to interpolate into SQL.
func TableFor(kind Kind) (Table, error) {
	t, ok := tables[kind]
	if !ok {
		return Table{}, fmt.Errorf("no table for record kind %q", kind)
	}
	return t, nil
}

// Kinds lists every record domain.
func Kinds() []Kind {
	return []Kind{KindResident, KindHousehold, KindAccount}
}
