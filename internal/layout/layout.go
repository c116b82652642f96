// Package layout maps cube coordinates onto the linear LED strip.
package layout

type Dim struct{ X, Y, Z int }

// Serpentine describes how the strip snakes through the cube.
type Serpentine struct {
	XFlipEveryRow   bool
	YFlipEveryPanel bool
}

type Layout struct {
	Dim   Dim
	Order Serpentine
}

// Strip is a 1-D layout of n LEDs.
func Strip(n int) Layout {
	return Layout{Dim: Dim{X: n, Y: 1, Z: 1}}
}

// Index maps x,y,z -> linear LED index (0..N-1).
func (l Layout) Index(x, y, z int) int {
	if l.Order.YFlipEveryPanel && z%2 == 1 {
		y = l.Dim.Y - 1 - y
	}
	if l.Order.XFlipEveryRow && y%2 == 1 {
		x = l.Dim.X - 1 - x
	}
	return z*l.Dim.X*l.Dim.Y + y*l.Dim.X + x
}

// Coord is the inverse of Index.
func (l Layout) Coord(i int) (x, y, z int) {
	perPanel := l.Dim.X * l.Dim.Y
	z = i / perPanel
	rem := i % perPanel
	y = rem / l.Dim.X
	x = rem % l.Dim.X
	if l.Order.XFlipEveryRow && y%2 == 1 {
		x = l.Dim.X - 1 - x
	}
	if l.Order.YFlipEveryPanel && z%2 == 1 {
		y = l.Dim.Y - 1 - y
	}
	return x, y, z
}

func (l Layout) Count() int {
	return l.Dim.X * l.Dim.Y * l.Dim.Z
}
