package common

import "golang.org/x/exp/constraints"

// Mask returns a value of T with its low w bits set, used by the Nexus
// parser's field reader (nextBits, under spec.md §4.1 fixed(w) and var())
// so the w>=64 edge case is handled once here rather than per caller. The
// RISC-V instruction decoder does its own masking and does not use it.
func Mask[T constraints.Unsigned](w int) T {
	if w <= 0 {
		return 0
	}
	if w >= 64 {
		return ^T(0)
	}
	return (T(1) << uint(w)) - 1
}
