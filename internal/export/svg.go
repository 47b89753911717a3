// Package export renders session data to files.
package export

import (
	"fmt"
	"strings"

	"github.com/san-kum/aiwater/internal/observe"
)

// MassCurveSVG plots cumulative mass against time. Between samples the mass
// ramps linearly, which matches an event's constant rate. Masses are drawn
// in micrograms.
func MassCurveSVG(times, mass []float64, width, height int, strokeColor string) string {
	n := len(times)
	if len(mass) < n {
		n = len(mass)
	}
	if n < 2 {
		return ""
	}

	const pad = 40
	maxX, maxY := times[n-1], 0.0
	for i := 0; i < n; i++ {
		if times[i] > maxX {
			maxX = times[i]
		}
		if mass[i] > maxY {
			maxY = mass[i]
		}
	}
	if maxX <= 0 {
		maxX = 1
	}
	if maxY <= 0 {
		maxY = 1e-6
	}
	plotW := float64(width - 2*pad)
	plotH := float64(height - 2*pad)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<g stroke="#444466" stroke-width="1">
<line x1="%d" y1="%d" x2="%d" y2="%d"/>
<line x1="%d" y1="%d" x2="%d" y2="%d"/>
</g>
<g fill="#888899" font-family="monospace" font-size="11">
<text x="%d" y="%d">%s</text>
<text x="%d" y="%d" text-anchor="end">%.1fs</text>
</g>
<path fill="none" stroke="%s" stroke-width="1.5" d="M`,
		width, height, width, height,
		pad, pad, pad, height-pad,
		pad, height-pad, width-pad, height-pad,
		pad+4, pad-8, observe.FormatMicrograms(maxY),
		width-pad, height-pad+16, maxX,
		strokeColor))

	for i := 0; i < n; i++ {
		x := float64(pad) + times[i]/maxX*plotW
		y := float64(height-pad) - mass[i]/maxY*plotH
		if i == 0 {
			sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
		} else {
			sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
		}
	}

	sb.WriteString(`"/>
</svg>`)
	return sb.String()
}
