// Package control runs the omni-laser control loop: one synchronous fusion
// pass per tick, paced by a fixed-deadline Scheduler, with the resulting
// scan and base state kept for query accessors and pushed to publishers.
package control
