package sss

import (
	"bytes"
	"crypto/rand"
	mrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T, size int) []byte {
	t.Helper()
	secret := make([]byte, size)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func pickIndices(r *mrand.Rand, n, count int) []byte {
	perm := r.Perm(n)
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		out[i] = byte(perm[i] + 1)
	}
	return out
}

func TestSplitAndJoin(t *testing.T) {
	tests := []struct {
		name string
		n, k int
		size int
	}{
		{"1-of-1", 1, 1, 32},
		{"1-of-3", 3, 1, 32},
		{"2-of-3", 3, 2, 64},
		{"3-of-5", 5, 3, 64},
		{"5-of-5", 5, 5, 16},
		{"10-of-20", 20, 10, 48},
		{"200-of-255", 255, 200, 8},
	}
	r := mrand.New(mrand.NewSource(7))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			secret := randomSecret(t, tc.size)
			shares, err := Split(secret, tc.n, tc.k, rand.Reader)
			require.NoError(t, err)
			require.Len(t, shares, tc.n)
			for idx := 1; idx <= tc.n; idx++ {
				require.Len(t, shares[byte(idx)], tc.size)
			}

			for i := 0; i < 10; i++ {
				count := tc.k + r.Intn(tc.n-tc.k+1)
				subset := shares.Subset(pickIndices(r, tc.n, count)...)
				recovered, err := Join(subset, tc.k)
				require.NoError(t, err)
				assert.Equal(t, secret, recovered)
			}
		})
	}
}

func TestJoinBelowThresholdRevealsNothing(t *testing.T) {
	r := mrand.New(mrand.NewSource(11))
	secret := randomSecret(t, 32)
	shares, err := Split(secret, 5, 3, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		subset := shares.Subset(pickIndices(r, 5, 2)...)

		_, err := Join(subset, 3)
		require.ErrorIs(t, err, ErrInsufficientShares)

		guess, err := Join(subset, 2)
		require.NoError(t, err)
		assert.NotEqual(t, secret, guess)
	}
}

func TestSplitKnownPolynomial(t *testing.T) {
	// f(x) = 0x42 + 0x01*x
	shares, err := Split([]byte{0x42}, 3, 2, bytes.NewReader([]byte{0x01}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x43}, shares[1])
	assert.Equal(t, []byte{0x40}, shares[2])
	assert.Equal(t, []byte{0x41}, shares[3])

	secret, err := Join(shares.Subset(2, 3), 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, secret)
}

func TestSplitUsesFreshRandomness(t *testing.T) {
	secret := randomSecret(t, 32)
	first, err := Split(secret, 3, 2, nil)
	require.NoError(t, err)
	second, err := Split(secret, 3, 2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first[1], second[1])
}

func TestSplitShortRandomSource(t *testing.T) {
	_, err := Split([]byte("secret"), 3, 2, bytes.NewReader([]byte{1, 2}))
	require.Error(t, err)
}

func TestSplitInvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		secret []byte
		n, k   int
	}{
		{"zero threshold", []byte("s"), 3, 0},
		{"threshold above count", []byte("s"), 2, 3},
		{"too many shares", []byte("s"), 256, 2},
		{"empty secret", nil, 3, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(tc.secret, tc.n, tc.k, nil)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
		})
	}
}

func TestJoinErrors(t *testing.T) {
	shares, err := Split([]byte("passphrase"), 3, 2, nil)
	require.NoError(t, err)

	_, err = Join(shares.Subset(1), 2)
	assert.ErrorIs(t, err, ErrInsufficientShares)

	bad := shares.Subset(1, 2)
	bad[2] = bad[2][:4]
	_, err = Join(bad, 2)
	assert.ErrorIs(t, err, ErrInconsistentShareLength)

	_, err = Join(ShareSet{0: []byte{1}, 1: []byte{2}}, 2)
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	_, err = Join(shares, 0)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestJoinSharesFromDifferentSplit(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	a, err := Split(secret, 3, 2, nil)
	require.NoError(t, err)
	b, err := Split(secret, 3, 2, nil)
	require.NoError(t, err)

	mixed := ShareSet{1: a[1], 2: b[2]}
	recovered, err := Join(mixed, 2)
	require.NoError(t, err)
	assert.NotEqual(t, secret, recovered)
}

func TestGFInverse(t *testing.T) {
	for a := 1; a < 256; a++ {
		assert.Equal(t, byte(1), gfMul(byte(a), gfInv(byte(a))), "a=%d", a)
	}
}
