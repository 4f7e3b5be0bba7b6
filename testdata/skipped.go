package testdata

type Point struct {
	X, Y int
}

func (p Point) Norm() int {
	return p.X*p.X + p.Y*p.Y
}

func Length(s string) int {
	return 0
}

func Pair(x int) (int, int) {
	return x, x
}
