package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ubc-systopia/indaleko/internal/storage"
	"github.com/ubc-systopia/indaleko/internal/types"
)

const storageScopeName = "github.com/ubc-systopia/indaleko/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in indaleko.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged
// when telemetry is disabled.
type InstrumentedStorage struct {
	inner       storage.Storage
	tracer      trace.Tracer
	ops         metric.Int64Counter
	dur         metric.Float64Histogram
	errs        metric.Int64Counter
	recordGauge metric.Int64Gauge
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("indaleko.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("indaleko.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("indaleko.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	recordGauge, _ := m.Int64Gauge("indaleko.activity.count",
		metric.WithDescription("Current activity record count (snapshot from GetStatistics)"),
	)
	return &InstrumentedStorage{
		inner:       s,
		tracer:      Tracer(storageScopeName),
		ops:         ops,
		dur:         dur,
		errs:        errs,
		recordGauge: recordGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func collAttr(collection string) attribute.KeyValue {
	return attribute.String("indaleko.collection", collection)
}

// ── Service registry ────────────────────────────────────────────────────────

func (s *InstrumentedStorage) RegisterService(ctx context.Context, reg storage.ServiceRegistration) (*storage.ServiceRecord, error) {
	attrs := []attribute.KeyValue{attribute.String("indaleko.service", reg.Name)}
	ctx, span, t := s.op(ctx, "RegisterService", attrs...)
	v, err := s.inner.RegisterService(ctx, reg)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Tier records ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) StoreRecords(ctx context.Context, collection string, records []*types.TierRecord) (storage.StoreResult, error) {
	attrs := []attribute.KeyValue{collAttr(collection), attribute.Int("indaleko.batch.size", len(records))}
	ctx, span, t := s.op(ctx, "StoreRecords", attrs...)
	v, err := s.inner.StoreRecords(ctx, collection, records)
	if err == nil {
		span.SetAttributes(
			attribute.Int("indaleko.stored", len(v.StoredIDs)),
			attribute.Int("indaleko.duplicates", v.Duplicates),
			attribute.Int("indaleko.failed", v.Failed),
		)
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetRecent(ctx context.Context, collection string, since time.Time, limit int) ([]*types.Activity, error) {
	attrs := []attribute.KeyValue{collAttr(collection)}
	ctx, span, t := s.op(ctx, "GetRecent", attrs...)
	v, err := s.inner.GetRecent(ctx, collection, since, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("indaleko.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetStatistics(ctx context.Context, collection string) (*types.Statistics, error) {
	attrs := []attribute.KeyValue{collAttr(collection)}
	ctx, span, t := s.op(ctx, "GetStatistics", attrs...)
	v, err := s.inner.GetStatistics(ctx, collection)
	s.done(ctx, span, t, err, attrs...)
	if err == nil && v != nil {
		s.recordGauge.Record(ctx, v.TotalCount, metric.WithAttributes(collAttr(collection)))
	}
	return v, err
}

func (s *InstrumentedStorage) ExpiringRecords(ctx context.Context, collection string, tier types.Tier, before time.Time, limit int) ([]*types.TierRecord, error) {
	attrs := []attribute.KeyValue{collAttr(collection), attribute.String("indaleko.tier", string(tier))}
	ctx, span, t := s.op(ctx, "ExpiringRecords", attrs...)
	v, err := s.inner.ExpiringRecords(ctx, collection, tier, before, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("indaleko.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) DeleteRecord(ctx context.Context, collection string, tier types.Tier, activityID string) error {
	attrs := []attribute.KeyValue{collAttr(collection), attribute.String("indaleko.tier", string(tier))}
	ctx, span, t := s.op(ctx, "DeleteRecord", attrs...)
	err := s.inner.DeleteRecord(ctx, collection, tier, activityID)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) PurgeExpired(ctx context.Context, collection string) (int64, error) {
	attrs := []attribute.KeyValue{collAttr(collection)}
	ctx, span, t := s.op(ctx, "PurgeExpired", attrs...)
	n, err := s.inner.PurgeExpired(ctx, collection)
	if err == nil {
		span.SetAttributes(attribute.Int64("indaleko.purged", n))
	}
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStorage) CountRecords(ctx context.Context, collection string, tier types.Tier) (int64, error) {
	attrs := []attribute.KeyValue{collAttr(collection), attribute.String("indaleko.tier", string(tier))}
	ctx, span, t := s.op(ctx, "CountRecords", attrs...)
	v, err := s.inner.CountRecords(ctx, collection, tier)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) IncrementAccess(ctx context.Context, collection string, activityIDs []string) error {
	attrs := []attribute.KeyValue{collAttr(collection), attribute.Int("indaleko.batch.size", len(activityIDs))}
	ctx, span, t := s.op(ctx, "IncrementAccess", attrs...)
	err := s.inner.IncrementAccess(ctx, collection, activityIDs)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Entity state ────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetEntityByRef(ctx context.Context, volume string, fileReference uint64) (*types.Entity, error) {
	attrs := []attribute.KeyValue{attribute.String("indaleko.volume", volume)}
	ctx, span, t := s.op(ctx, "GetEntityByRef", attrs...)
	v, err := s.inner.GetEntityByRef(ctx, volume, fileReference)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetEntity(ctx context.Context, entityID string) (*types.Entity, error) {
	attrs := []attribute.KeyValue{attribute.String("indaleko.entity.id", entityID)}
	ctx, span, t := s.op(ctx, "GetEntity", attrs...)
	v, err := s.inner.GetEntity(ctx, entityID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) SaveEntity(ctx context.Context, e *types.Entity) error {
	attrs := []attribute.KeyValue{attribute.String("indaleko.entity.id", e.EntityID)}
	ctx, span, t := s.op(ctx, "SaveEntity", attrs...)
	err := s.inner.SaveEntity(ctx, e)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
