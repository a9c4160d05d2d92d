// Package laserrpc serves fused scans and base control over gRPC.
//
// The omnilaser.Laser service (see laser.proto) carries messages encoded
// with protowire through a codec forced on both ends, so no generated code
// is needed. Publisher owns the gRPC server and fans every published scan
// out to the StreamScans subscribers; Server answers the unary calls from
// the control loop's latest state; Client is the matching caller.
package laserrpc
