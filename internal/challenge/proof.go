package challenge

import (
	"errors"
	"math/big"
)

const (
	lowThreshold  = 6666
	highThreshold = 0x3f940aa
)

var errEmptyIssue = errors.New("issued data is empty")

// ComputeProof reproduces the challenge server's check over the issued
// integers and returns the result as big-endian 6-bit digits. The
// asymmetric thresholds are part of the server's check.
func ComputeProof(data []int) ([]int, error) {
	n := len(data)
	if n == 0 {
		return nil, errEmptyIssue
	}

	sum := 0
	for _, v := range data {
		sum += v
	}
	rounds := proofRounds(n, sum)

	six := big.NewInt(6)
	bn := big.NewInt(int64(n))
	t := big.NewInt(1)
	for i := 0; i < rounds; i++ {
		t.Mul(t, six)
	}

	if t.Cmp(big.NewInt(lowThreshold)) < 0 {
		t.Mul(t, bn)
	}
	if t.Cmp(big.NewInt(highThreshold)) > 0 {
		// Euclidean division matches floor division for a positive divisor.
		t.Div(t, bn)
	}

	cube := new(big.Int)
	for o, v := range data {
		bv := big.NewInt(int64(v))
		cube.Exp(bv, big.NewInt(3), nil)
		t.Add(t, cube)
		t.Xor(t, big.NewInt(int64(o)))
		t.Xor(t, big.NewInt(int64(v+o)))
	}

	return digits(t), nil
}

// proofRounds is 6 + (6+n+sum) mod 6 with a non-negative modulus. Go's %
// keeps the sign of the dividend, so a negative sum is folded back into 0..5.
func proofRounds(n, sum int) int {
	return ((6+n+sum)%6+6)%6 + 6
}

func digits(t *big.Int) []int {
	var out []int
	mask := big.NewInt(63)
	x := new(big.Int).Set(t)
	d := new(big.Int)
	for x.Sign() > 0 {
		d.And(x, mask)
		out = append(out, int(d.Int64()))
		x.Rsh(x, 6)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
