package testdata

func Sum(n int) int {
	if n < 0 {
		return 0
	}
	s := 0
	for i := 0; i < n; i++ {
		s += i
	}
	return s
}
