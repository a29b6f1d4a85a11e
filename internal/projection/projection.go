package projection

import (
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/powderwatch/internal/model"
)

const (
	// MaxValueLength は公開する文字列値の最大文字数。
	MaxValueLength = 255
	ellipsis       = "..."
)

// Result は1つの公開値と属性を表す。
// 参照先が存在しない場合、Valueはnil、Attributesは空マップとなる。
type Result struct {
	Value      any
	Attributes model.Attributes
	Unit       string
}

// trailAttributeKeys はコースの属性名と上流キーの対応。
var trailAttributeKeys = []struct {
	attr string
	key  string
}{
	{"difficulty", "Difficulty"},
	{"snow_making", "SnowMaking"},
	{"grooming", "Grooming"},
	{"night_skiing", "NightSkiing"},
	{"moguls", "Moguls"},
	{"glades", "Glades"},
	{"touring", "Touring"},
	{"nordic", "Nordic"},
	{"terrain_park_on_run", "TerrainParkOnRun"},
	{"run_of_the_day", "RunOfTheDay"},
	{"trail_summary", "TrailSummary"},
	{"terrain_park_features", "TerrainParkFeatures"},
	{"update_date", "UpdateDate"},
}

// Projector はペイロードから公開値を導出する。
type Projector struct {
	textFilter func(string) string
}

// Option はProjectorの設定オプション。
type Option func(*Projector)

// WithTextFilter は文字列値に切り詰め前に適用するフィルタを設定する。
func WithTextFilter(f func(string) string) Option {
	return func(p *Projector) {
		p.textFilter = f
	}
}

// New はProjectorの新しいインスタンスを生成する。
func New(opts ...Option) *Projector {
	p := &Projector{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultProjector = New()

// Project はフィルタなしのProjectorで公開値を導出する。
func Project(payload *model.FeedPayload, stats model.PollStats, resortName string, sel Selector) Result {
	return defaultProjector.Project(payload, stats, resortName, sel)
}

// Project はペイロードと統計値から、セレクタが指す公開値を導出する。
// どの階層で参照先が欠けてもエラーにはせず、空の結果を返す。
func (p *Projector) Project(payload *model.FeedPayload, stats model.PollStats, resortName string, sel Selector) Result {
	resort := payload.FindResort(resortName)
	if resort == nil {
		return empty()
	}

	switch sel.Kind {
	case KindOperatingStatus:
		return Result{Value: p.normalize(resort.OperatingStatus), Attributes: model.Attributes{}}

	case KindSnowReport:
		var v any
		if resort.SnowReport != nil {
			v = resort.SnowReport[sel.Key]
		}
		return Result{Value: p.normalize(v), Attributes: model.Attributes{}, Unit: UnitFor(sel.Key)}

	case KindArea:
		area := resort.FindArea(sel.Area)
		if area == nil {
			return empty()
		}
		var open any = 0
		if area.OpenTrailsCount != nil {
			open = area.OpenTrailsCount
		}
		return Result{
			Value: open,
			Attributes: model.Attributes{
				"total_trails_count": area.TotalTrailsCount,
				"last_update":        area.LastUpdate,
			},
		}

	case KindTrail:
		item := resort.FindArea(sel.Area).FindItem(model.ItemKindTrail, sel.Item)
		if item == nil {
			return empty()
		}
		attrs := make(model.Attributes, len(trailAttributeKeys))
		for _, k := range trailAttributeKeys {
			attrs[k.attr] = item[k.key]
		}
		return Result{Value: p.normalize(itemStatus(item)), Attributes: attrs}

	case KindLift, KindActivity:
		kind := model.ItemKindLift
		if sel.Kind == KindActivity {
			kind = model.ItemKindActivity
		}
		item := resort.FindArea(sel.Area).FindItem(kind, sel.Item)
		if item == nil {
			return empty()
		}
		return Result{
			Value:      p.normalize(itemStatus(item)),
			Attributes: item.Without("Status", "StatusEnglish", "Id"),
		}

	case KindStat:
		switch sel.Stat {
		case StatUpdatesToday:
			return Result{Value: stats.UpdatesToday, Attributes: model.Attributes{}}
		case StatNoUpdatesToday:
			return Result{Value: stats.NoUpdatesToday, Attributes: model.Attributes{}}
		default:
			return Result{Value: 0, Attributes: model.Attributes{}}
		}

	default:
		return empty()
	}
}

// UnitFor はスノーレポートのキー名から単位を推定する。
func UnitFor(key string) string {
	switch {
	case strings.HasSuffix(key, "In"):
		return "in"
	case strings.HasSuffix(key, "CM"):
		return "cm"
	case strings.Contains(key, "Acres"):
		return "acre"
	case strings.Contains(key, "Hectares"):
		return "ha"
	default:
		return ""
	}
}

// Truncate は最大文字数を超える文字列を省略記号付きで切り詰める。
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxValueLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxValueLength-len(ellipsis)]) + ellipsis
}

func (p *Projector) normalize(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if p.textFilter != nil {
		s = p.textFilter(s)
	}
	return Truncate(s)
}

// itemStatus はアイテムの状態を返す。StatusEnglishキーがない場合は "unknown"。
func itemStatus(item model.Attributes) any {
	v, ok := item["StatusEnglish"]
	if !ok {
		return "unknown"
	}
	return v
}

func empty() Result {
	return Result{Value: nil, Attributes: model.Attributes{}}
}
