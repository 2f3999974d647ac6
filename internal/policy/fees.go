package policy

import (
	"math/bits"

	"github.com/covenant-labs/covenant/internal/pay"
)

type basisPointsFee struct {
	rate uint32
}

// BasisPoints creates a fee calculator charging floor(amount * rate / 10000).
//
// Each calculator floors independently, so the combined fee of two
// calculators may differ from the floor of the summed rate by at most one
// unit. This is accepted behavior, not corrected.
func BasisPoints(rate uint32) (FeeCalculator, error) {
	if rate > pay.MaxFeeBps {
		return nil, NewConfigError("fee rate %d exceeds %d bps", rate, pay.MaxFeeBps)
	}
	return basisPointsFee{rate: rate}, nil
}

func (f basisPointsFee) Fee(_ pay.Descriptor, amount uint64, _ string) (uint64, error) {
	hi, lo := bits.Mul64(amount, uint64(f.rate))
	// With rate <= 10000 the quotient always fits in 64 bits, so hi < 10000
	// holds for any amount. Guard anyway: Div64 panics on quotient overflow.
	if hi >= pay.MaxFeeBps {
		return 0, NewOverflowError("fee multiplication")
	}
	if f.rate == 0 {
		return 0, nil
	}
	q, _ := bits.Div64(hi, lo, pay.MaxFeeBps)
	return q, nil
}

func (f basisPointsFee) RateBps() uint32 { return f.rate }
