package viz

import "math"

// DrawCell draws the electrolysis cell: a beaker whose water level is
// level (0 empty, 1 full) and two electrodes. While active, gas bubbles are
// cut out of the water beside each electrode; frame animates them.
func DrawCell(c *Canvas, level float64, active bool, frame int) {
	c.Clear()
	w, h := c.PixelWidth(), c.PixelHeight()
	if w < 12 || h < 12 {
		return
	}
	level = math.Max(0, math.Min(1, level))

	left, right := 2, w-3
	top, bottom := 2, h-2

	c.DrawLine(left, top, left, bottom)
	c.DrawLine(right, top, right, bottom)
	c.DrawLine(left, bottom, right, bottom)

	inner := bottom - top - 1
	surface := bottom - 1 - int(level*float64(inner))
	if surface < bottom {
		c.DrawLine(left+1, surface, right-1, surface)
		c.Hatch(left+1, surface+1, right-1, bottom-1)
	}

	anode := left + (right-left)/3
	cathode := left + 2*(right-left)/3
	for _, x := range []int{anode, cathode} {
		c.DrawLine(x, 0, x, bottom-3)
		c.DrawLine(x+1, 0, x+1, bottom-3)
	}

	if !active || surface >= bottom-2 {
		return
	}
	span := bottom - 3 - surface
	if span <= 0 {
		return
	}
	// Cathode releases hydrogen at twice the oxygen volume.
	for i, x := range []int{anode, cathode} {
		n := 2 + 2*i
		for k := 0; k < n; k++ {
			y := bottom - 3 - (frame*(1+i)+k*span/n)%span
			c.Unset(x+2, y)
			c.Unset(x+3, y)
		}
	}
}
