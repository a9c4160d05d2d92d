// Package publish defines the outbound contract of the fusion loop: every
// push to a downstream sink returns a Result that says whether the payload
// was delivered or why the transport failed. Publication never aborts a
// tick; the loop reports the Result and moves on.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/robot"
)

// Status is the outcome of one publish operation.
type Status int

const (
	// StatusDelivered means the sink accepted the payload.
	StatusDelivered Status = iota + 1
	// StatusTransportFailure means the sink could not take the payload.
	StatusTransportFailure
	// StatusSkipped means no sink was configured for the payload.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusTransportFailure:
		return "transport_failure"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result describes one publish call.
type Result struct {
	Sink   string
	Status Status
	// Reason is a short human readable failure cause, empty on delivery.
	Reason string
	Err    error
}

// Delivered returns a successful Result for sink.
func Delivered(sink string) Result {
	return Result{Sink: sink, Status: StatusDelivered}
}

// Failed returns a transport failure Result for sink.
func Failed(sink string, err error) Result {
	if err == nil {
		err = errors.New("unknown transport failure")
	}
	return Result{Sink: sink, Status: StatusTransportFailure, Reason: err.Error(), Err: err}
}

// Skipped returns a Result for a payload that had nowhere to go.
func Skipped(sink string) Result {
	return Result{Sink: sink, Status: StatusSkipped}
}

// OK reports whether the payload was delivered.
func (r Result) OK() bool { return r.Status == StatusDelivered }

// ScanPublisher pushes finished scans downstream.
type ScanPublisher interface {
	PublishScan(ctx context.Context, scan *fusion.Scan) Result
}

// StatePublisher pushes base pose/velocity telemetry.
type StatePublisher interface {
	PublishState(ctx context.Context, state robot.BaseState) Result
}

// RGBDPublisher pushes camera captures.
type RGBDPublisher interface {
	PublishRGBD(ctx context.Context, frame robot.RGBDFrame) Result
}

// Fanout publishes to several sinks and folds their results into one.
// The fold is delivered only if every sink delivered.
type Fanout struct {
	Scans  []ScanPublisher
	States []StatePublisher
	RGBD   []RGBDPublisher
}

// PublishScan implements ScanPublisher.
func (f *Fanout) PublishScan(ctx context.Context, scan *fusion.Scan) Result {
	results := make([]Result, 0, len(f.Scans))
	for _, p := range f.Scans {
		results = append(results, p.PublishScan(ctx, scan))
	}
	return Fold("laser", results)
}

// PublishState implements StatePublisher.
func (f *Fanout) PublishState(ctx context.Context, state robot.BaseState) Result {
	results := make([]Result, 0, len(f.States))
	for _, p := range f.States {
		results = append(results, p.PublishState(ctx, state))
	}
	return Fold("base", results)
}

// PublishRGBD implements RGBDPublisher.
func (f *Fanout) PublishRGBD(ctx context.Context, frame robot.RGBDFrame) Result {
	results := make([]Result, 0, len(f.RGBD))
	for _, p := range f.RGBD {
		results = append(results, p.PublishRGBD(ctx, frame))
	}
	return Fold("rgbd", results)
}

// Fold merges per-sink results under a single sink name. Any failure fails
// the fold. Otherwise the fold is Delivered if at least one sink delivered
// and Skipped if none did.
func Fold(sink string, results []Result) Result {
	var errs []error
	var reasons []string
	delivered := false
	for _, r := range results {
		switch r.Status {
		case StatusTransportFailure:
			errs = append(errs, r.Err)
			reasons = append(reasons, r.Sink+": "+r.Reason)
		case StatusDelivered:
			delivered = true
		}
	}
	if len(errs) == 0 {
		if delivered {
			return Delivered(sink)
		}
		return Skipped(sink)
	}
	return Result{
		Sink:   sink,
		Status: StatusTransportFailure,
		Reason: strings.Join(reasons, "; "),
		Err:    errors.Join(errs...),
	}
}
