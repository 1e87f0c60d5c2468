package internal

import "github.com/ValentinKolb/dPersist/lib/query"

// QueryType defines the possible lookups of the state machine.
type QueryType uint8

const (
	QueryTSelect QueryType = iota // Select the records matching a query.
	QueryTLen                     // Number of stored records.
)

func (q QueryType) String() string {
	switch q {
	case QueryTSelect:
		return "Select"
	case QueryTLen:
		return "Len"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// Lookups never leave the node, so the query is passed as is.
type Query struct {
	Type  QueryType
	Query *query.Query
}
