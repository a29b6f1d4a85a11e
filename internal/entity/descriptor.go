// Package entity は購読対象リゾートの公開エンティティを列挙し、状態を導出して保存する。
package entity

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hitoshi/powderwatch/internal/model"
	"github.com/hitoshi/powderwatch/internal/projection"
)

// SnowReportKeys はスノーレポートから公開するスカラー値のキー。
// フィードに存在しないキーもエンティティとして公開し、値はnullとなる。
var SnowReportKeys = []string{
	"BaseConditions",
	"Report",
	"AdditionalText",
	"News",
	"Alert",
	"StormRadar",
	"StormRadarButtonText",
	"SafetyReport",
	"SafetyReportFrench",
	"LiftNotification",
	"OpenTerrainAcres",
	"TotalTerrainAcres",
	"StormTotalIn",
	"StormTotalCM",
	"AnnualAverageSnowfallIn",
	"AnnualAverageSnowfallCm",
	"SnowBaseRangeIn",
	"SnowBaseRangeCM",
	"SeasonTotalIn",
	"SeasonTotalCm",
	"SecondarySeasonTotalIn",
	"SecondarySeasonTotalCm",
	"OpenTerrainHectares",
	"TotalTerrainHectares",
	"TotalOpenTrails",
	"TotalTrails",
	"TotalTrailsMakingSnow",
	"GroomedTrails",
	"TotalOpenLifts",
	"TotalLifts",
	"TotalOpenActivities",
	"TotalActivities",
	"TotalOpenParks",
	"TotalParks",
	"OpenNightParks",
	"TotalNightParks",
	"TotalParkFeatures",
	"OpenNightTrails",
	"TotalNightTrails",
	"GroomingActive",
	"SnowMakingActive",
	"TotalHalfpipes",
	"OpenHalfpipes",
}

// Descriptor は1つの公開エンティティの識別情報。
// センサーはSelectorで値を導出し、天気エンティティはWeatherAreaで現況を参照する。
type Descriptor struct {
	ID          string
	Name        string
	Kind        model.EntityKind
	Resort      string
	Selector    projection.Selector
	WeatherArea string
}

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// SplitCamel は小文字と大文字の境界に空白を入れる。
func SplitCamel(s string) string {
	return camelBoundary.ReplaceAllString(s, "$1 $2")
}

// Slug はID用に空白をアンダースコアへ置き換えて小文字化する。
func Slug(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}

// ExpandResorts は購読のリゾート指定を実際のリゾート名に展開する。
// "All"を含む場合はペイロード内の全リゾートを返す。
func ExpandResorts(payload *model.FeedPayload, resorts []string) []string {
	for _, r := range resorts {
		if r == model.AllResorts {
			return payload.ResortNames()
		}
	}
	out := make([]string, 0, len(resorts))
	seen := make(map[string]bool, len(resorts))
	for _, r := range resorts {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// Describe はペイロードと購読対象リゾートから公開エンティティを列挙する。
// エリアや項目はペイロードに存在するものだけが対象になる。
// 同じIDになる項目は最初のものだけを残す。
func Describe(payload *model.FeedPayload, resorts []string) []Descriptor {
	var out []Descriptor
	seen := make(map[string]bool)
	add := func(d Descriptor) {
		if seen[d.ID] {
			return
		}
		seen[d.ID] = true
		out = append(out, d)
	}

	for _, resort := range ExpandResorts(payload, resorts) {
		add(sensor(resort, resort+"_operating_status", resort+" Operating Status", projection.OperatingStatus()))

		for _, key := range SnowReportKeys {
			add(sensor(resort, resort+"_snow_report_"+key, resort+" "+SplitCamel(key), projection.SnowReport(key)))
		}

		record := payload.FindResort(resort)
		if record != nil {
			for i := range record.MountainAreas {
				area := &record.MountainAreas[i]
				add(sensor(resort,
					resort+"_area_"+Slug(area.Name),
					resort+" "+area.Name+" Open Trails",
					projection.Area(area.Name),
				))
			}
			for _, kind := range []model.ItemKind{model.ItemKindTrail, model.ItemKindLift, model.ItemKindActivity} {
				for i := range record.MountainAreas {
					area := &record.MountainAreas[i]
					for _, item := range area.Items(kind) {
						add(itemDescriptor(resort, area.Name, kind, item.Text("Name")))
					}
				}
			}
		}

		for _, stat := range projection.Stats {
			add(sensor(resort,
				resort+"_"+string(stat),
				resort+" "+statDisplayName(stat),
				projection.StatOf(stat),
			))
		}

		if record != nil {
			areas := make([]string, 0, len(record.CurrentConditions))
			for name := range record.CurrentConditions {
				areas = append(areas, name)
			}
			sort.Strings(areas)
			for _, area := range areas {
				add(Descriptor{
					ID:          resort + "_" + area + "_weather",
					Name:        resort + " " + area + " Weather",
					Kind:        model.EntityKindWeather,
					Resort:      resort,
					WeatherArea: area,
				})
			}
		}
	}
	return out
}

func sensor(resort, id, name string, sel projection.Selector) Descriptor {
	return Descriptor{
		ID:       id,
		Name:     name,
		Kind:     model.EntityKindSensor,
		Resort:   resort,
		Selector: sel,
	}
}

func itemDescriptor(resort, area string, kind model.ItemKind, name string) Descriptor {
	id := resort + "_" + string(kind) + "_" + Slug(area) + "_" + Slug(name)
	display := resort + " " + area + " " + name

	var sel projection.Selector
	switch kind {
	case model.ItemKindTrail:
		sel = projection.Trail(area, name)
	case model.ItemKindLift:
		sel = projection.Lift(area, name)
		display += " Lift"
	default:
		sel = projection.Activity(area, name)
	}
	return sensor(resort, id, display, sel)
}

// statDisplayName は "no_updates_today" を "No Updates Today" にする。
func statDisplayName(stat projection.Stat) string {
	words := strings.Split(string(stat), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
