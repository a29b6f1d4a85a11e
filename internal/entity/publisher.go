package entity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/powderwatch/internal/metrics"
	"github.com/hitoshi/powderwatch/internal/model"
	"github.com/hitoshi/powderwatch/internal/projection"
	"github.com/hitoshi/powderwatch/internal/weather"
)

// StateStore はエンティティ状態の保存先。
type StateStore interface {
	UpsertStates(ctx context.Context, states []model.EntityState) error
}

// Sanitizer はHTML断片を無害化する。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Publisher は1つの購読のエンティティ状態を導出して保存する。
// 一度でも列挙したエンティティは覚えておき、ペイロードから消えた後も
// 値nullとして公開し続ける。
type Publisher struct {
	mu             sync.Mutex
	subscriptionID string
	resorts        []string
	store          StateStore
	projector      *projection.Projector
	sanitizer      Sanitizer
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	location       *time.Location
	now            func() time.Time

	known map[string]Descriptor
	order []string
}

// Option はPublisherの設定オプション。
type Option func(*Publisher)

// WithProjector は値の導出に使うProjectorを設定する。
func WithProjector(p *projection.Projector) Option {
	return func(pub *Publisher) {
		if p != nil {
			pub.projector = p
		}
	}
}

// WithSanitizer はスノーレポートのHTML属性に使うサニタイザを設定する。
func WithSanitizer(s Sanitizer) Option {
	return func(pub *Publisher) {
		pub.sanitizer = s
	}
}

// WithMetrics はメトリクス収集を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(pub *Publisher) {
		if m != nil {
			pub.metrics = m
		}
	}
}

// WithLocation は予報日時の解釈に使うタイムゾーンを設定する。
func WithLocation(loc *time.Location) Option {
	return func(pub *Publisher) {
		if loc != nil {
			pub.location = loc
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(pub *Publisher) {
		pub.now = now
	}
}

// NewPublisher はPublisherの新しいインスタンスを生成する。
// storeがnilの場合は保存せずに状態の導出だけを行う。
func NewPublisher(subscriptionID string, resorts []string, store StateStore, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		subscriptionID: subscriptionID,
		resorts:        append([]string(nil), resorts...),
		store:          store,
		projector:      projection.New(),
		metrics:        metrics.Nop{},
		logger:         logger,
		location:       time.Local,
		now:            time.Now,
		known:          make(map[string]Descriptor),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build はペイロードと統計値から既知の全エンティティの状態を導出する。
// ペイロードがnilでも既知のエンティティは利用不可として返す。
func (p *Publisher) Build(payload *model.FeedPayload, stats model.PollStats) []model.EntityState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if payload != nil {
		for _, d := range Describe(payload, p.resorts) {
			if _, ok := p.known[d.ID]; ok {
				continue
			}
			p.known[d.ID] = d
			p.order = append(p.order, d.ID)
		}
	}

	now := p.now()
	states := make([]model.EntityState, 0, len(p.order))
	for _, id := range p.order {
		d := p.known[id]
		var st model.EntityState
		if d.Kind == model.EntityKindWeather {
			st = p.weatherState(payload, d)
		} else {
			st = p.sensorState(payload, stats, d)
		}
		st.SubscriptionID = p.subscriptionID
		st.EntityID = d.ID
		st.Name = d.Name
		st.Kind = d.Kind
		st.Available = payload != nil && payload.FindResort(d.Resort) != nil
		st.UpdatedAt = now
		states = append(states, st)
	}
	return states
}

// Publish は状態を導出して保存する。保存した状態を返す。
func (p *Publisher) Publish(ctx context.Context, payload *model.FeedPayload, stats model.PollStats) ([]model.EntityState, error) {
	states := p.Build(payload, stats)
	if len(states) == 0 || p.store == nil {
		return states, nil
	}

	start := p.now()
	if err := p.store.UpsertStates(ctx, states); err != nil {
		return nil, fmt.Errorf("エンティティ状態の保存に失敗: %w", err)
	}
	p.metrics.RecordEntitiesPublished(len(states))

	p.logger.Debug("エンティティ状態を保存しました",
		slog.String("subscription_id", p.subscriptionID),
		slog.Int("entity_count", len(states)),
		slog.Float64("duration_ms", float64(p.now().Sub(start).Milliseconds())),
	)
	return states, nil
}

// Known はこれまでに列挙したエンティティを列挙順に返す。
func (p *Publisher) Known() []Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Descriptor, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.known[id])
	}
	return out
}

func (p *Publisher) sensorState(payload *model.FeedPayload, stats model.PollStats, d Descriptor) model.EntityState {
	res := p.projector.Project(payload, stats, d.Resort, d.Selector)
	st := model.EntityState{
		State:      res.Value,
		Unit:       res.Unit,
		Attributes: res.Attributes,
	}

	// リッチテキストはHTMLを無害化して属性に残す
	if d.Selector.Kind == projection.KindSnowReport && p.sanitizer != nil {
		if resort := payload.FindResort(d.Resort); resort != nil {
			if raw, ok := resort.SnowReport[d.Selector.Key].(string); ok && strings.Contains(raw, "<") {
				st.Attributes = model.Attributes{"html": p.sanitizer.Sanitize(raw)}
			}
		}
	}
	return st
}

func (p *Publisher) weatherState(payload *model.FeedPayload, d Descriptor) model.EntityState {
	st := model.EntityState{Attributes: model.Attributes{}}

	resort := payload.FindResort(d.Resort)
	if resort == nil {
		return st
	}
	area := resort.CurrentConditions[d.WeatherArea]
	if area == nil {
		return st
	}

	obs := weather.Current(area)
	attrs := model.Attributes{}
	for k, v := range obs.Extra {
		attrs[k] = v
	}
	attrs["temperature"] = derefFloat(obs.TemperatureC)
	attrs["humidity"] = derefInt(obs.Humidity)
	attrs["wind_speed"] = derefFloat(obs.WindSpeedKph)
	attrs["wind_bearing"] = derefInt(obs.WindBearing)
	attrs["pressure"] = derefFloat(obs.PressureMB)
	attrs["wind_speed_unit"] = "km/h"
	attrs["pressure_unit"] = "mbar"
	if obs.ConditionUnmapped {
		attrs["condition_unmapped"] = true
	}
	if fc := weather.Forecast(resort, d.WeatherArea, p.location); len(fc) > 0 {
		attrs["forecast"] = fc
	}

	st.Attributes = attrs
	st.Unit = "°C"
	if obs.Condition != "" {
		st.State = obs.Condition
	}
	return st
}

func derefFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
