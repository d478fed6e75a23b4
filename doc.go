// Package weft implements a conflict-free replicated document store.
//
// A Doc holds a set of named root containers whose edits, performed in
// transactions, commute across replicas: peers exchange binary updates
// in either of two wire formats and converge to the same state
// regardless of delivery order, as long as each client's own updates
// arrive causally. Updates can be merged, diffed against a state vector
// and transcoded between formats without materializing a document.
//
// The unit of replication is the struct: a span of content clocked by a
// (client, clock) pair, placed among concurrent siblings with a
// deterministic conflict resolution rule. Deletions travel separately as
// delete sets; deleted content is garbage collected into tombstones at
// transaction end.
package weft
