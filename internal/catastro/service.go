package catastro

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hogarfamiliar/catastro-cli/internal/fetcher"
	"github.com/hogarfamiliar/catastro-cli/internal/metrics"
	"github.com/hogarfamiliar/catastro-cli/internal/model"
	"github.com/hogarfamiliar/catastro-cli/internal/refcat"
)

// Messages returned to callers for failures whose details stay in the log.
const (
	msgMalformed = "the Catastro response could not be read, please try again later"
	msgInternal  = "internal error while processing the request"
)

// Endpoints holds the upstream URL templates. Each one takes the canonical
// reference as its only %s verb.
type Endpoints struct {
	REST        string
	Legacy      string
	Coordinates string
}

// DefaultEndpoints returns the public Catastro OVC endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		REST:        "https://ovc.catastro.meh.es/ovcservweb/OVCSWLocalizacionRC/OVCCallejero.svc/rest/Consulta_DNPRC?RC=%s",
		Legacy:      "https://ovc.catastro.meh.es/ovcservweb/OVCSWLocalizacionRC/OVCCallejero.asmx/Consulta_DNPRC?ReferenciaCatastral=%s",
		Coordinates: "https://ovc.catastro.meh.es/ovcservweb/OVCSWLocalizacionRC/OVCCoordenadas.asmx/Consulta_RCCOOR?SRS=EPSG:4326&RC=%s",
	}
}

// Cache is the read-through cache the service consults. *cache.Store
// satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) ([]model.Property, bool)
	Put(ctx context.Context, key string, records []model.Property, rawXML []byte)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Endpoints Endpoints
	// Cache may be nil, which disables caching.
	Cache   Cache
	Metrics *metrics.Metrics
	// DedupeInflight collapses concurrent misses for the same reference into
	// one upstream round trip.
	DedupeInflight bool
}

// Acquisition is a successful lookup.
type Acquisition struct {
	Reference string
	Records   []model.Property
	Source    model.Source
}

// Service composes cache, transport and parser into the lookup pipeline.
type Service struct {
	fetcher   fetcher.Fetcher
	parser    *Parser
	cache     Cache
	endpoints Endpoints
	metrics   *metrics.Metrics
	inflight  *singleflight.Group
}

// NewService returns a Service that fetches through f.
func NewService(f fetcher.Fetcher, opts ServiceOptions) *Service {
	def := DefaultEndpoints()
	if opts.Endpoints.REST == "" {
		opts.Endpoints.REST = def.REST
	}
	if opts.Endpoints.Legacy == "" {
		opts.Endpoints.Legacy = def.Legacy
	}
	if opts.Endpoints.Coordinates == "" {
		opts.Endpoints.Coordinates = def.Coordinates
	}

	s := &Service{
		fetcher:   f,
		parser:    NewParser(),
		cache:     opts.Cache,
		endpoints: opts.Endpoints,
		metrics:   opts.Metrics,
	}
	if opts.DedupeInflight {
		s.inflight = &singleflight.Group{}
	}
	return s
}

// AcquireProperty looks up raw and folds the outcome into a Result.
func (s *Service) AcquireProperty(ctx context.Context, raw string) model.Result {
	return ToResult(s.Acquire(ctx, raw))
}

// ToResult converts the outcome of Acquire into the caller-facing Result.
// Data is never nil. Malformed responses and unexpected failures carry a
// generic message; the details go to the log.
func ToResult(acq *Acquisition, err error) model.Result {
	if err != nil {
		return model.Result{
			Success: false,
			Data:    []model.Property{},
			Error:   publicMessage(err),
		}
	}
	return model.Result{
		Success: true,
		Data:    acq.Records,
		Source:  acq.Source,
	}
}

// Acquire looks up raw and returns the typed outcome. Errors are always
// *Error.
func (s *Service) Acquire(ctx context.Context, raw string) (*Acquisition, error) {
	rc, err := refcat.Sanitize(raw)
	if err != nil {
		s.metrics.Acquisition(string(KindInvalidInput), "")
		return nil, &Error{Kind: KindInvalidInput, Message: "invalid cadastral reference", Err: err}
	}

	parts := refcat.Split(rc)
	log := zap.L().With(
		zap.String("referencia", rc),
		zap.String("parcela", parts.Parcel14()),
		zap.String("cargo", parts.Building),
	)

	if records, ok := s.cacheGet(ctx, rc); ok {
		log.Debug("catastro: served from cache", zap.Int("records", len(records)))
		s.metrics.Acquisition("ok", string(model.SourceCache))
		return &Acquisition{Reference: rc, Records: records, Source: model.SourceCache}, nil
	}

	var acq *Acquisition
	if s.inflight != nil {
		v, err, shared := s.inflight.Do(rc, func() (any, error) {
			return s.acquireUpstream(ctx, rc)
		})
		if err != nil {
			return nil, s.fail(log, err)
		}
		acq = v.(*Acquisition)
		if shared {
			// Each caller gets its own slice header over the shared records.
			acq = &Acquisition{Reference: acq.Reference, Source: acq.Source, Records: append([]model.Property(nil), acq.Records...)}
		}
	} else {
		acq, err = s.acquireUpstream(ctx, rc)
		if err != nil {
			return nil, s.fail(log, err)
		}
	}

	log.Info("catastro: acquired from upstream", zap.Int("records", len(acq.Records)))
	s.metrics.Acquisition("ok", string(model.SourceAPI))
	return acq, nil
}

func (s *Service) acquireUpstream(ctx context.Context, rc string) (*Acquisition, error) {
	resp, err := s.fetchDNPRC(ctx, rc)
	if err != nil {
		return nil, err
	}

	records, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, err
	}

	s.enrich(ctx, rc, records)

	if s.cache != nil {
		s.cache.Put(ctx, rc, records, resp.Body)
	}

	return &Acquisition{Reference: rc, Records: records, Source: model.SourceAPI}, nil
}

// fetchDNPRC queries the REST endpoint and falls back to the legacy one on
// anything other than 200 or 404. Each endpoint gets its own full retry cycle.
// A 404 is a data outcome: it ends the fallback and reaches the caller as
// KindNoData unless the body carries an upstream error message.
func (s *Service) fetchDNPRC(ctx context.Context, rc string) (*fetcher.Response, error) {
	var (
		last    *fetcher.Response
		lastErr error
	)
	for _, ep := range []struct{ name, tpl string }{
		{"rest", s.endpoints.REST},
		{"legacy", s.endpoints.Legacy},
	} {
		resp, err := s.get(ctx, ep.name, ep.tpl, rc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Kind: KindUnavailable, Message: "request cancelled before Catastro answered", Err: err}
			}
			zap.L().Warn("catastro: endpoint call failed",
				zap.String("endpoint", ep.name),
				zap.String("referencia", rc),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		last = resp
		if resp.OK() {
			return resp, nil
		}
		zap.L().Info("catastro: endpoint did not answer 200",
			zap.String("endpoint", ep.name),
			zap.String("referencia", rc),
			zap.Int("status", resp.StatusCode),
			zap.Bool("synthetic", resp.Synthetic),
		)
		if resp.StatusCode == http.StatusNotFound {
			break
		}
	}

	if last == nil {
		var tooLarge *fetcher.BodyTooLargeError
		if errors.As(lastErr, &tooLarge) {
			return nil, &Error{Kind: KindMalformed, Message: "the Catastro response exceeded the accepted size", Err: lastErr}
		}
		return nil, &Error{Kind: KindInternal, Message: "catastro request could not be issued", Err: lastErr}
	}
	if msg, ok := s.parser.UpstreamMessage(last.Body); ok {
		return nil, &Error{Kind: KindUpstreamData, Message: msg, StatusCode: last.StatusCode}
	}
	if last.StatusCode == http.StatusNotFound {
		return nil, &Error{
			Kind:       KindNoData,
			Message:    fmt.Sprintf("no property found for this reference (status %d)", last.StatusCode),
			StatusCode: last.StatusCode,
		}
	}
	return nil, &Error{
		Kind:       KindUnavailable,
		Message:    fmt.Sprintf("the Catastro service is not available right now (status %d), please try again later", last.StatusCode),
		StatusCode: last.StatusCode,
	}
}

// enrich resolves coordinates for a single record that lacks them. Failures
// leave the record untouched.
func (s *Service) enrich(ctx context.Context, rc string, records []model.Property) {
	if len(records) != 1 || records[0].HasCoordinates() {
		s.metrics.Enrichment("skipped")
		return
	}

	log := zap.L().With(zap.String("referencia", rc))

	resp, err := s.get(ctx, "coordinates", s.endpoints.Coordinates, rc)
	if err != nil {
		log.Warn("catastro: coordinate lookup failed", zap.Error(err))
		s.metrics.Enrichment("failed")
		return
	}
	if !resp.OK() {
		log.Warn("catastro: coordinate lookup did not answer 200", zap.Int("status", resp.StatusCode))
		s.metrics.Enrichment("failed")
		return
	}

	coords, ok := s.parser.ParseCoordinates(resp.Body)
	if !ok {
		log.Warn("catastro: coordinate response carried no usable point")
		s.metrics.Enrichment("failed")
		return
	}

	records[0].SetCoordinates(coords)
	s.metrics.Enrichment("ok")
}

func (s *Service) get(ctx context.Context, endpoint, tpl, rc string) (*fetcher.Response, error) {
	start := time.Now()
	resp, err := s.fetcher.Get(ctx, fmt.Sprintf(tpl, url.QueryEscape(rc)))
	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	s.metrics.ObserveUpstream(endpoint, status, time.Since(start))
	return resp, err
}

func (s *Service) cacheGet(ctx context.Context, rc string) ([]model.Property, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, rc)
}

// fail normalizes err to *Error, logs it and records the outcome.
func (s *Service) fail(log *zap.Logger, err error) error {
	var ce *Error
	if !errors.As(err, &ce) {
		ce = &Error{Kind: KindInternal, Message: msgInternal, Err: err}
	}

	switch ce.Kind {
	case KindMalformed, KindInternal, KindUnavailable:
		log.Error("catastro: acquisition failed",
			zap.String("kind", string(ce.Kind)),
			zap.Int("status", ce.StatusCode),
			zap.Error(ce),
		)
	default:
		log.Info("catastro: acquisition rejected",
			zap.String("kind", string(ce.Kind)),
			zap.String("message", ce.Message),
		)
	}

	s.metrics.Acquisition(string(ce.Kind), "")
	return ce
}

func publicMessage(err error) string {
	var ce *Error
	if !errors.As(err, &ce) {
		return msgInternal
	}
	switch ce.Kind {
	case KindMalformed:
		return msgMalformed
	case KindInternal:
		return msgInternal
	default:
		return ce.Message
	}
}
