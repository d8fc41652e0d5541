// Package crawler implements the resumable listing walk: it pages through a
// poem listing, skips entries already recorded in the progress log, extracts
// each remaining poem and persists it before recording a resume marker.
//
// Execution is strictly sequential. One page or poem is fetched at a time and
// every fetch is followed by a fixed politeness pause.
package crawler
