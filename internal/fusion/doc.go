// Package fusion owns the omni-laser fusion pipeline.
//
// Responsibilities: reprojecting per-sensor depth scanlines into the robot
// frame, converting robot-frame points to polar form, binning them on a
// fixed 360-entry angular grid, resolving bins by median and filling the
// remaining holes so that every tick yields a complete Scan.
// Key types: SensorConfig, Registry, SensorFrame, Grid, Scan, Fuser.
//
// Dependency rule: fusion depends on no other internal package. Transport,
// simulation and scheduling live above it.
package fusion
