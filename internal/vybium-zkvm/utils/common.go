package utils

// IsPowerOfTwo checks if a number is a power of 2
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 computes the base-2 logarithm of a power of 2
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}

	result := 0
	for n > 1 {
		n >>= 1
		result++
	}
	return result
}

// NextPowerOfTwo returns the smallest power of 2 >= n
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}

// CeilDiv returns ceil(a / b) for positive b.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}

// AlignUp rounds n up to a multiple of align, which must be a power of 2.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
