// Package sss implements Shamir secret sharing over GF(2^8).
//
// Every byte of the secret is shared independently with its own random
// polynomial of degree k-1. The field is GF(2^8) reduced by x^8+x^4+x^3+x+1
// (0x11b, the AES polynomial). The x coordinate of a share is its index, so
// indices run 1..n and any k of them reconstruct the secret.
package sss

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
)

// MaxShares is the largest share count the one-byte index can address.
const MaxShares = 255

var (
	ErrInvalidPolicy           = errors.New("invalid share policy")
	ErrInsufficientShares      = errors.New("insufficient shares")
	ErrInconsistentShareLength = errors.New("inconsistent share length")
)

// ShareSet maps a 1-based share index to the share bytes.
type ShareSet map[byte][]byte

// Indices returns the share indices in ascending order.
func (s ShareSet) Indices() []byte {
	indices := make([]byte, 0, len(s))
	for idx := range s {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// Subset returns a new ShareSet holding only the given indices.
func (s ShareSet) Subset(indices ...byte) ShareSet {
	out := make(ShareSet, len(indices))
	for _, idx := range indices {
		if share, ok := s[idx]; ok {
			out[idx] = share
		}
	}
	return out
}

// ValidatePolicy checks 1 <= k <= n <= MaxShares.
func ValidatePolicy(n, k int) error {
	switch {
	case k < 1:
		return fmt.Errorf("%w: threshold %d is less than 1", ErrInvalidPolicy, k)
	case n > MaxShares:
		return fmt.Errorf("%w: share count %d exceeds %d", ErrInvalidPolicy, n, MaxShares)
	case k > n:
		return fmt.Errorf("%w: threshold %d exceeds share count %d", ErrInvalidPolicy, k, n)
	}
	return nil
}

// Split shares secret into n shares, any k of which reconstruct it.
// Polynomial coefficients are read from random; a nil reader falls back to
// crypto/rand.
func Split(secret []byte, n, k int, random io.Reader) (ShareSet, error) {
	if err := ValidatePolicy(n, k); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret cannot be empty", ErrInvalidPolicy)
	}
	if random == nil {
		random = rand.Reader
	}

	degree := k - 1
	coeffs := make([]byte, len(secret)*degree)
	if _, err := io.ReadFull(random, coeffs); err != nil {
		return nil, fmt.Errorf("fail to read random coefficients, err: %w", err)
	}
	defer wipe(coeffs)

	shares := make(ShareSet, n)
	for i := 1; i <= n; i++ {
		x := byte(i)
		share := make([]byte, len(secret))
		for j, b := range secret {
			share[j] = evalPoly(b, coeffs[j*degree:(j+1)*degree], x)
		}
		shares[x] = share
	}
	return shares, nil
}

// Join reconstructs the secret from at least k shares. When more than k are
// supplied the k lowest indices are used. Shares from a different split are
// not detected and yield a wrong secret.
func Join(shares ShareSet, k int) ([]byte, error) {
	if k < 1 || k > MaxShares {
		return nil, fmt.Errorf("%w: threshold %d out of range", ErrInvalidPolicy, k)
	}
	if len(shares) < k {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(shares), k)
	}

	indices := shares.Indices()
	if indices[0] == 0 {
		return nil, fmt.Errorf("%w: share index 0 is reserved", ErrInvalidPolicy)
	}
	size := len(shares[indices[0]])
	if size == 0 {
		return nil, fmt.Errorf("%w: share %d is empty", ErrInconsistentShareLength, indices[0])
	}
	for _, idx := range indices[1:] {
		if len(shares[idx]) != size {
			return nil, fmt.Errorf("%w: share %d has %d bytes, share %d has %d",
				ErrInconsistentShareLength, indices[0], size, idx, len(shares[idx]))
		}
	}

	xs := indices[:k]
	basis := lagrangeAtZero(xs)
	secret := make([]byte, size)
	for j, x := range xs {
		y := shares[x]
		for i := range secret {
			secret[i] = gfAdd(secret[i], gfMul(y[i], basis[j]))
		}
	}
	return secret, nil
}

// lagrangeAtZero returns L_j(0) = prod_{m!=j} x_m / (x_m - x_j) for every j.
func lagrangeAtZero(xs []byte) []byte {
	basis := make([]byte, len(xs))
	for j, xj := range xs {
		num, den := byte(1), byte(1)
		for m, xm := range xs {
			if m == j {
				continue
			}
			num = gfMul(num, xm)
			den = gfMul(den, gfAdd(xm, xj))
		}
		basis[j] = gfDiv(num, den)
	}
	return basis
}

// evalPoly evaluates intercept + c[0]*x + c[1]*x^2 + ... with Horner's rule.
func evalPoly(intercept byte, coeffs []byte, x byte) byte {
	var result byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = gfAdd(gfMul(result, x), coeffs[i])
	}
	return gfAdd(gfMul(result, x), intercept)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
