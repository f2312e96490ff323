package sss

// Addition and subtraction are both XOR in characteristic 2.
func gfAdd(a, b byte) byte { return a ^ b }

// gfMul multiplies bitwise, reducing by 0x11b.
func gfMul(a, b byte) byte {
	var res byte
	for b > 0 {
		if b&1 == 1 {
			res ^= a
		}
		carry := a & 0x80
		a <<= 1
		if carry != 0 {
			a ^= 0x1b
		}
		b >>= 1
	}
	return res
}

func gfPow(a, n byte) byte {
	res := byte(1)
	for n > 0 {
		if n&1 == 1 {
			res = gfMul(res, a)
		}
		a = gfMul(a, a)
		n >>= 1
	}
	return res
}

// gfInv uses a^254 == a^-1 in GF(2^8). Zero has no inverse and maps to zero.
func gfInv(a byte) byte {
	if a == 0 {
		return 0
	}
	return gfPow(a, 254)
}

func gfDiv(a, b byte) byte {
	if b == 0 {
		return 0
	}
	return gfMul(a, gfInv(b))
}
