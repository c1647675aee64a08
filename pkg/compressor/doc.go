// Package compressor keeps conversation windows bounded by folding older
// turns into a summary stored in memory.
//
// A conversation below the threshold passes through untouched. At or above
// it, everything except the most recent window is summarized, the summary is
// written as a "[SESSION_SUMMARY]" context memory with a 48h expiry, and only
// the recent window is returned. The window never shrinks unless both the
// summary call and the memory write succeed.
package compressor
