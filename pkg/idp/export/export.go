// Package export renders a Master's current node tree to JSON or CSV, for
// operator tooling (a debug endpoint, a one-off audit script) rather than
// the wire protocol itself.
package export

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/gocarina/gocsv"
	"github.com/idpnet/idp/pkg/idp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NodeRecord is one row of a flattened node tree: CSV needs flat rows, and
// reusing the same shape for JSON keeps the two export paths consistent.
type NodeRecord struct {
	Address  uint16 `json:"address" csv:"address"`
	ParentOf uint16 `json:"parent_of,omitempty" csv:"parent_of"`
	GUID     string `json:"guid" csv:"guid"`
	Name     string `json:"name" csv:"name"`
	IsRouter bool   `json:"is_router" csv:"is_router"`
	State    string `json:"state" csv:"state"`
}

// Flatten walks a Master's node tree into a flat, stable-ordered slice of
// NodeRecord suitable for either export format.
func Flatten(m *idp.Master) []NodeRecord {
	nodes := m.Nodes()
	out := make([]NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeRecord{
			Address:  n.Address,
			GUID:     n.GUID.String(),
			Name:     n.Name,
			IsRouter: n.IsRouter,
			State:    n.EnumerationState.String(),
		})
	}
	return out
}

// WriteJSON writes records as a JSON array.
func WriteJSON(w io.Writer, records []NodeRecord) error {
	enc := json.NewEncoder(w)
	return enc.Encode(records)
}

// WriteCSV writes records as CSV with a header row.
func WriteCSV(w io.Writer, records []NodeRecord) error {
	return gocsv.Marshal(records, w)
}
