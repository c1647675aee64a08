// Package assembler packs prioritized context blocks into a token-bounded
// prompt fragment.
//
// Blocks are ordered by ascending priority (1 is highest) with ties kept in
// input order. Full blocks are emitted as "[SOURCE] content". The first block
// that does not fit is truncated into the remaining budget when enough room
// is left for it to be useful, and assembly stops there.
//
// Token counts are estimates. The default estimator divides character count
// by four; TiktokenEstimator counts BPE tokens instead.
package assembler
