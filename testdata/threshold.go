package testdata

func Threshold(x int) int {
	y := x + 1
	if y > 10 {
		y -= 10
		return y
	}
	var z int
	z = y * 2
	return z
}
