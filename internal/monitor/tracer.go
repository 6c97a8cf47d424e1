package monitor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// A campaign is traced as one root span with a child per batch; every
// harness invocation is a child of its batch.
const instrumentationName = "llm-compiler-fuzz/campaign"

var (
	keyCampaign  = attribute.Key("fuzz.campaign.id")
	keyTarget    = attribute.Key("fuzz.target")
	keyBatch     = attribute.Key("fuzz.batch.index")
	keyBatchSize = attribute.Key("fuzz.batch.artifacts")
	keyArtifact  = attribute.Key("fuzz.artifact")
	keyExitCode  = attribute.Key("fuzz.compile.exit_code")
	keyTimedOut  = attribute.Key("fuzz.compile.timed_out")
	keyDuration  = attribute.Key("fuzz.compile.duration_ms")
)

// Tracer opens campaign spans on the global TracerProvider.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// Campaign starts the root span of a run.
func (t *Tracer) Campaign(ctx context.Context, id, target string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "campaign",
		trace.WithAttributes(keyCampaign.String(id), keyTarget.String(target)))
}

func (t *Tracer) Batch(ctx context.Context, index, artifacts int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "batch",
		trace.WithAttributes(keyBatch.Int(index), keyBatchSize.Int(artifacts)))
}

func (t *Tracer) Compile(ctx context.Context, batch int, artifact string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "compile",
		trace.WithAttributes(keyBatch.Int(batch), keyArtifact.String(artifact)))
}

func (t *Tracer) Coverage(ctx context.Context, batch int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "coverage", trace.WithAttributes(keyBatch.Int(batch)))
}

// CompileResult annotates a compile span. A crash is the product of the
// campaign, so it is recorded as an event and leaves the span status unset.
func CompileResult(span trace.Span, exitCode int, timedOut bool, d time.Duration) {
	span.SetAttributes(
		keyExitCode.Int(exitCode),
		keyTimedOut.Bool(timedOut),
		keyDuration.Int64(d.Milliseconds()),
	)
	if exitCode != 0 || timedOut {
		span.AddEvent("crash")
	}
}

// Fail marks span as failed by err.
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
