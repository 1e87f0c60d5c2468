// Package util provides small helpers shared by the persistence packages.
//
// The package contains:
//   - values: coercion, equality and ordering of loosely typed field values
//   - functions: hash functions, seeds and the commit size jitter
//
// Field values travel through JSON codecs (bolt rows, raft commands, rpc messages),
// so a number saved as an int may come back as a float64 and a uuid.UUID may come
// back as a string. All comparisons in the module therefore go through Equal and
// Compare instead of ==.
package util
