package math

import (
	"errors"
	"math"
	"math/big"
	"sync"
)

// WAD is the fixed-point scale for fractional quantities: 1.0 == 1e18.
// Asset amounts are int64 base units; fractions (auction proportions,
// accrual factors) are int64 WAD-scaled. All products go through big.Int
// so a*b can never overflow silently.
const WAD int64 = 1_000_000_000_000_000_000

// WadBig returns WAD as a fresh big.Int.
func WadBig() *big.Int {
	return big.NewInt(WAD)
}

var (
	ErrDivisionByZero = errors.New("fpmath: division by zero")
	ErrOverflow       = errors.New("fpmath: result exceeds int64 range")
	ErrNegative       = errors.New("fpmath: negative value where unsigned expected")
)

// RoundingMode selects how division truncates.
type RoundingMode int

const (
	// RoundDown truncates toward zero. Default for payouts: the protocol
	// never gives out more than the exact quotient.
	RoundDown RoundingMode = iota
	// RoundUp rounds away from zero. Used when quoting debt owed so the
	// protocol never under-collects.
	RoundUp
)

// big.Int pool for intermediates, same shape as a 128-bit scratch register.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a*b/den with a big.Int intermediate and the given
// rounding. Inputs must be non-negative. Fails on zero denominator or
// when the result does not fit int64.
func MulDiv(a, b, den int64, mode RoundingMode) (int64, error) {
	if a < 0 || b < 0 || den < 0 {
		return 0, ErrNegative
	}
	if den == 0 {
		return 0, ErrDivisionByZero
	}

	num := getInt()
	defer putInt(num)
	num.Mul(big.NewInt(a), big.NewInt(b))

	return divToInt64(num, big.NewInt(den), mode)
}

// MulDivBig is MulDiv over big.Int operands, for callers whose
// intermediates already exceed int64 (e.g. ink*WAD at 18 decimals).
// The result is a fresh big.Int.
func MulDivBig(a, b, den *big.Int, mode RoundingMode) (*big.Int, error) {
	if a.Sign() < 0 || b.Sign() < 0 || den.Sign() < 0 {
		return nil, ErrNegative
	}
	if den.Sign() == 0 {
		return nil, ErrDivisionByZero
	}

	num := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int), new(big.Int)
	quo.QuoRem(num, den, rem)
	if mode == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// MulWad computes a * frac / WAD rounding down, where frac is WAD-scaled.
func MulWad(a, frac int64) (int64, error) {
	return MulDiv(a, frac, WAD, RoundDown)
}

// DivWad computes a * WAD / b rounding down.
func DivWad(a, b int64) (int64, error) {
	return MulDiv(a, WAD, b, RoundDown)
}

// DivWadUp computes a * WAD / b rounding up.
func DivWadUp(a, b int64) (int64, error) {
	return MulDiv(a, WAD, b, RoundUp)
}

// ToInt64 narrows a big.Int, failing on overflow or negative values.
func ToInt64(v *big.Int) (int64, error) {
	if v.Sign() < 0 {
		return 0, ErrNegative
	}
	if !v.IsInt64() {
		return 0, ErrOverflow
	}
	return v.Int64(), nil
}

// ToUint32 narrows an int64, failing on overflow or negative values.
func ToUint32(v int64) (uint32, error) {
	if v < 0 {
		return 0, ErrNegative
	}
	if v > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return uint32(v), nil
}

// divToInt64 divides num/den with rounding and narrows to int64.
func divToInt64(num, den *big.Int, mode RoundingMode) (int64, error) {
	quo := getInt()
	rem := getInt()
	defer putInt(quo)
	defer putInt(rem)

	quo.QuoRem(num, den, rem)
	if mode == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return ToInt64(quo)
}
