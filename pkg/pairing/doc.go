// Package pairing organizes localized spots into inter-channel pairs and
// assembles pairs into tracks over time.
//
// Data flows through three steps:
//
//  1. IndexByPosition groups the raw spot list by acquisition position.
//  2. Assemble matches, for every position, frame and channel pair (c1 < c2),
//     each spot in c1 with the nearest spot in c2 within a distance cutoff.
//  3. BuildTracks chains pairs of consecutive frames into tracks, each pair
//     being claimed by at most one track.
//
// Spots and pairs are referenced by index. Nothing in this package mutates
// the caller's spot list.
package pairing
