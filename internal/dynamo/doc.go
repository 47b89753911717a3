// Package dynamo provides the core primitives of the electrolysis model.
//
// It defines the cell parameters and the deterministic formulas that turn a
// cost into a reaction:
//
//   - [Params]: physical and economic parameters of the cell
//   - [Rate]: grams of water consumed per second for a set of params
//   - [Duration]: seconds of electrolysis bought by a cost
//   - [Status]: snapshot reported by the engine
//   - [Event]: one engine transition, delivered to observers
//
// # Example
//
//	p := dynamo.DefaultParams()
//	d := dynamo.Duration(0.00005, p) // 1.0s
//	m := dynamo.Rate(p) * d          // ~9.328e-6 g
//
// The stateful engine built on these lives in package sim.
package dynamo
