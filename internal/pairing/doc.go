// Package pairing partitions channel members into conversation groups and
// maintains the per-channel rotation circle.
//
// Both mechanisms draw randomness from an explicitly passed Source so tests can
// supply a seeded generator. The circle is membership bookkeeping only: Generate
// reshuffles every round and never reads it.
package pairing
