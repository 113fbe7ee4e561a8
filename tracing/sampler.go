package tracing

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InvocationSampler wraps base so that invocation spans and their
// descendants are always recorded, even when base drops them. Recorded but
// unsampled spans reach the Recorder without being exported.
func InvocationSampler(base sdktrace.Sampler) sdktrace.Sampler {
	if base == nil {
		base = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return invocationSampler{base: base}
}

type invocationSampler struct {
	base sdktrace.Sampler
}

func (s invocationSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	res := s.base.ShouldSample(p)
	if res.Decision != sdktrace.Drop {
		return res
	}
	if trace.SpanFromContext(p.ParentContext).IsRecording() {
		res.Decision = sdktrace.RecordOnly
		return res
	}
	for _, kv := range p.Attributes {
		if kv.Key == AttrInvocation && kv.Value.AsBool() {
			res.Decision = sdktrace.RecordOnly
			break
		}
	}
	return res
}

func (s invocationSampler) Description() string {
	return "InvocationSampler{" + s.base.Description() + "}"
}
