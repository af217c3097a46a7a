package graft

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/graftvcs/graft")
var meter = otel.Meter("github.com/graftvcs/graft")

// bgCtx is used by internal bookkeeping (pseudo-edge GC and repair, driven
// from deep inside Apply's write transaction) that has no caller-supplied
// context to attach counter records to.
var bgCtx = context.Background()

const (
	// channelName labels counters and spans by the channel they operated on,
	// so Retrieve/Apply/Output can be broken down per channel (mirroring the
	// teacher's digitaltwinGraphName attribute convention).
	channelName = "channel"
	// operationName labels operationDuration/operationFailures by which of
	// Apply/Unrecord/Output/Record ran.
	operationName = "operation"
)

var (
	// pseudoEdgesInserted counts PSEUDO edges added by repairMissingContexts
	// to reconnect surviving vertices around a deletion (spec.md §4.7).
	pseudoEdgesInserted metric.Int64Counter
	// pseudoEdgesRemoved counts PSEUDO edges garbage-collected by
	// removeForwardEdges once no longer needed for connectivity (spec.md
	// §4.3).
	pseudoEdgesRemoved metric.Int64Counter
	// conflictRegions counts the SCCs containing more than one vertex
	// surfaced by a retrieve + tarjan pass, i.e. cyclic conflicts (spec.md
	// §4.3, §4.4).
	conflictRegions metric.Int64Counter
	// operationDuration measures the wall-clock duration of Apply,
	// Unrecord, Output, and Record, each labeled by operationName
	// and channelName (teacher's disassemblyDuration pattern).
	operationDuration metric.Float64Histogram
	// operationFailures counts operations that returned a non-nil error.
	operationFailures metric.Int64Counter
)

func init() {
	var err error
	pseudoEdgesInserted, err = meter.Int64Counter(
		"graft.pseudo_edges.inserted",
		metric.WithDescription("Number of PSEUDO edges inserted to repair connectivity around a deletion."),
	)
	if err != nil {
		panic("graft: failed to init 'graft.pseudo_edges.inserted' instrument")
	}

	pseudoEdgesRemoved, err = meter.Int64Counter(
		"graft.pseudo_edges.removed",
		metric.WithDescription("Number of PSEUDO edges garbage-collected as transitively redundant."),
	)
	if err != nil {
		panic("graft: failed to init 'graft.pseudo_edges.removed' instrument")
	}

	conflictRegions, err = meter.Int64Counter(
		"graft.conflict_regions",
		metric.WithDescription("Number of multi-vertex strongly connected components surfaced during retrieval."),
	)
	if err != nil {
		panic("graft: failed to init 'graft.conflict_regions' instrument")
	}

	operationDuration, err = meter.Float64Histogram(
		"graft.operation.duration",
		metric.WithDescription("Duration of an Apply/Unrecord/Output/Record call."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("graft: failed to init 'graft.operation.duration' instrument")
	}

	operationFailures, err = meter.Int64Counter(
		"graft.operation.failures",
		metric.WithDescription("Number of Apply/Unrecord/Output/Record calls that returned an error."),
	)
	if err != nil {
		panic("graft: failed to init 'graft.operation.failures' instrument")
	}
}

// startSpan opens a span named "graft."+op, labeled with the channel it
// operates against, following the teacher's tracer/meter pairing in
// telemetry.go.
func startSpan(ctx context.Context, op, channel string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graft."+op, trace.WithAttributes(attribute.String(channelName, channel)))
}

// measureOperation records operationDuration on success or increments
// operationFailures on error, mirroring the teacher's measureDisassembly.
// Called via defer from Apply/Unrecord/Output/Record with time.Now() as
// start and the function's named error return.
func measureOperation(ctx context.Context, op, channel string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(operationName, op), attribute.String(channelName, channel))
	if succeeded {
		duration := float64(d) / float64(time.Millisecond)
		operationDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
	} else {
		operationFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}
