package weather

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/powderwatch/internal/model"
)

// DayKeys は予報スロットの走査順。
var DayKeys = []string{"OneDay", "TwoDay", "ThreeDay", "FourDay", "FiveDay"}

// mmPerInch はインチからミリメートルへの換算係数。
const mmPerInch = 25.4

// ForecastEntry は予報の1エントリ（日中または深夜）。
// 気温は摂氏、降水量はmm。
type ForecastEntry struct {
	DateTime      time.Time `json:"datetime"`
	Condition     string    `json:"condition"`
	Temperature   float64   `json:"temperature"`
	TempLow       float64   `json:"templow"`
	Precipitation float64   `json:"precipitation"`
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

// Forecast はリゾートの予報レコードから最大5日分の予報エントリを導出する。
// 有効な日ごとに正午と翌日0時の2エントリを出力する。
// 初日の最高・最低気温は、取得できればエリアの現況値を優先する。
func Forecast(resort *model.ResortRecord, areaLabel string, loc *time.Location) []ForecastEntry {
	if resort == nil || len(resort.Forecast) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	area := resort.CurrentConditions[areaLabel]

	var entries []ForecastEntry
	for _, key := range DayKeys {
		day := resort.Forecast[key]
		if len(day) == 0 {
			continue
		}
		date, err := parseDate(day.Text("date"), loc)
		if err != nil {
			continue
		}
		if isPlaceholder(day["temp_high_f"]) || isPlaceholder(day["temp_low_f"]) {
			continue
		}

		high, low, ok := dayTemperatures(key, day, area)
		if !ok {
			continue
		}
		high, low = FahrenheitToCelsius(high), FahrenheitToCelsius(low)

		condition := MapCondition(day.Text("conditions"))
		y, m, d := date.Date()
		entries = append(entries,
			ForecastEntry{
				DateTime:      time.Date(y, m, d, 12, 0, 0, 0, date.Location()),
				Condition:     condition,
				Temperature:   high,
				TempLow:       low,
				Precipitation: SnowfallToMM(day["forecasted_snow_day_in"]),
			},
			ForecastEntry{
				DateTime:      time.Date(y, m, d+1, 0, 0, 0, 0, date.Location()),
				Condition:     condition,
				Temperature:   low,
				TempLow:       low,
				Precipitation: SnowfallToMM(day["forecasted_snow_night_in"]),
			},
		)
	}
	return entries
}

func dayTemperatures(key string, day, area model.Attributes) (float64, float64, bool) {
	if key == DayKeys[0] && area != nil {
		areaHigh, okHigh := ParseNumber(area["TemperatureHighF"])
		areaLow, okLow := ParseNumber(area["TemperatureLowF"])
		if okHigh && okLow {
			return areaHigh, areaLow, true
		}
	}
	high, okHigh := ParseNumber(day["temp_high_f"])
	low, okLow := ParseNumber(day["temp_low_f"])
	if !okHigh || !okLow {
		return 0, 0, false
	}
	return high, low, true
}

// FahrenheitToCelsius は華氏を摂氏に換算し、小数第1位に丸める。
func FahrenheitToCelsius(f float64) float64 {
	return math.Round((f-32)*5/9*10) / 10
}

// SnowfallToMM は降雪量文字列（"2-4" のような範囲を含む）の下限をmmに換算する。
// 変換できない値は0を返す。
func SnowfallToMM(v any) float64 {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		return x * mmPerInch
	default:
		return 0
	}

	s = strings.TrimSpace(s)
	if lo, _, found := strings.Cut(s, "-"); found {
		s = strings.TrimSpace(lo)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f * mmPerInch
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("日付が空です")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("日付を解析できません: %s", s)
}

func isPlaceholder(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == Placeholder
}
