package testdata

func Never(x int) int {
	if false {
		return x
	}
}
