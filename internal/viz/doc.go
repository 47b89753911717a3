// Package viz is the terminal water meter, built on Bubble Tea.
//
// The meter polls an engine on its own cadence through observe.Poller and
// animates the displayed mass between polls. It can drive a co-located
// engine or a remote server through the same Controller interface.
//
// # Key Bindings
//
//	C     - Submit a cost event
//	+/-   - Double or halve the cost submitted by C
//	R     - Reset the session
//	Tab   - Cycle electrolysis parameters
//	↑/↓   - Tune the selected parameter by 5%
//	T     - Cycle color themes
//	?     - Show help overlay
//	Q     - Quit
package viz
