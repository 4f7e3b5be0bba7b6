package testdata

func Select(a bool, x int) int {
	if a && x > 0 {
		return 1
	} else if !a {
		return 2
	}
	return 3
}
