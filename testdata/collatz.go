package testdata

func CollatzStep(x int) int {
	if x%2 == 0 {
		return x / 2
	} else {
		return x*3 + 1
	}
}
