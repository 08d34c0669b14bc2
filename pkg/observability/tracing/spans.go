// Package tracing provides OpenTelemetry spans for configuration resolution.
//
// A resolve or refresh pass opens one internal span; each backend fetch runs
// in a client span beneath it, so a trace shows which import was slow or
// failed. Spans go through the global provider, which NewTracerProvider
// installs when tracing is enabled and which is a no-op otherwise.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for every configdata span.
const InstrumentationName = "github.com/nimburion/configdata"

// Attribute keys recorded on configdata spans.
const (
	// AttrScheme is the backend scheme of the locator, e.g. "vault"
	AttrScheme = attribute.Key("configdata.locator.scheme")
	// AttrPath is the backend-specific path of the locator
	AttrPath = attribute.Key("configdata.locator.path")
	// AttrOptional marks locators declared with the optional: prefix
	AttrOptional = attribute.Key("configdata.locator.optional")
	// AttrProperties is the number of flattened properties a fetch produced
	AttrProperties = attribute.Key("configdata.properties")
	// AttrKind is "resolve" or "refresh"
	AttrKind = attribute.Key("configdata.resolution.kind")
	// AttrLocators is the number of locators in the pass
	AttrLocators = attribute.Key("configdata.resolution.locators")
)

// StartFetchSpan starts a client span around one backend fetch. The caller
// must end the returned span.
func StartFetchSpan(ctx context.Context, scheme, path string, optional bool) (context.Context, trace.Span) {
	tracer := otel.Tracer(InstrumentationName)
	return tracer.Start(ctx, "configdata.fetch "+scheme,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrScheme.String(scheme),
			AttrPath.String(path),
			AttrOptional.Bool(optional),
		),
	)
}

// StartResolveSpan starts the parent span of a resolution or refresh pass.
func StartResolveSpan(ctx context.Context, kind string, locators int) (context.Context, trace.Span) {
	tracer := otel.Tracer(InstrumentationName)
	return tracer.Start(ctx, "configdata."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrKind.String(kind),
			AttrLocators.Int(locators),
		),
	)
}

// SetPropertyCount records how many properties a fetch produced.
func SetPropertyCount(span trace.Span, count int) {
	span.SetAttributes(AttrProperties.Int(count))
}

// RecordError marks span as failed with err. A nil err leaves the span
// untouched.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
