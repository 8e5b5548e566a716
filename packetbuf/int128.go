package packetbuf

import "fmt"

// Uint128 is an unsigned 128-bit integer split into two 64-bit halves.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Int128 is a two's complement signed 128-bit integer. Hi carries the sign.
type Int128 struct {
	Hi int64
	Lo uint64
}

var (
	MaxUint128 = Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}
	MaxInt128  = Int128{Hi: 1<<63 - 1, Lo: ^uint64(0)}
	MinInt128  = Int128{Hi: -1 << 63, Lo: 0}
)

// Uint128From widens v.
func Uint128From(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// Int128From sign-extends v.
func Int128From(v int64) Int128 {
	if v < 0 {
		return Int128{Hi: -1, Lo: uint64(v)}
	}

	return Int128{Lo: uint64(v)}
}

// String formats u as 0x followed by 32 hex digits.
func (u Uint128) String() string {
	return fmt.Sprintf("0x%016x%016x", u.Hi, u.Lo)
}

// String formats the two's complement bits of i like Uint128.String.
func (i Int128) String() string {
	return fmt.Sprintf("0x%016x%016x", uint64(i.Hi), i.Lo)
}
