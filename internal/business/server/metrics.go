package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/middleware/responsewriter"
)

var (
	counter      metric.Int64Counter
	hist         metric.Int64Histogram
	loginOutcome metric.Int64Counter
)

func initMeters(ctx context.Context, cfg *config.Config) error {
	meter := otel.Meter(
		"auth-session/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	var err error

	counter, err = meter.Int64Counter(
		"http.request_count",
		metric.WithDescription("Incoming request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	hist, err = meter.Int64Histogram(
		"http.duration",
		metric.WithDescription("Incoming end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	loginOutcome, err = meter.Int64Counter(
		"login.outcome",
		metric.WithDescription("Completed login callbacks by outcome"),
		metric.WithUnit("callback"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating login outcome meter")
	}

	return nil
}

// recordLoginOutcome counts a callback; reason is "success" or an error code.
func recordLoginOutcome(ctx context.Context, cfg *config.Config, reason string) {
	if loginOutcome == nil {
		return
	}

	loginOutcome.Add(ctx, 1, metric.WithAttributes(
		otlp.CreateAttributesFrom(cfg.Application, attribute.String("reason", reason))...,
	))
}

// newTraceMiddleware covers a handler with a request id, a tracer span and
// the request metrics.
func newTraceMiddleware(cfg *config.Config, operation string) func(http.Handler) http.Handler {
	traceAttrs := otlp.CreateAttributesFrom(cfg.Application, attribute.String(commoncfg.AttrOperation, operation))
	tracer := otel.Tracer(operation, trace.WithInstrumentationAttributes(traceAttrs...))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := slogctx.With(r.Context(),
				commoncfg.AttrRequestID, uuid.NewString(),
				commoncfg.AttrOperation, operation,
			)

			parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(parentCtx, operation+"-span", trace.WithAttributes(traceAttrs...))
			defer span.End()

			rec := responsewriter.NewRecorder(w)
			requestStartTime := time.Now()

			defer func() {
				elapsedTime := time.Since(requestStartTime)

				attrs := metric.WithAttributes(
					otlp.CreateAttributesFrom(cfg.Application,
						attribute.String("userAgent", r.UserAgent()),
						attribute.String(commoncfg.AttrOperation, operation),
						attribute.String("status", strconv.Itoa(rec.Status())),
					)...,
				)

				if counter != nil {
					counter.Add(ctx, 1, attrs)
				}
				if hist != nil {
					hist.Record(ctx, elapsedTime.Milliseconds(), attrs)
				}
			}()

			slogctx.Debug(ctx, "Processing "+operation+" request")
			next.ServeHTTP(rec, r.WithContext(ctx))
			slogctx.Debug(ctx, "Finished "+operation+" request", "status", rec.Status())
		})
	}
}
