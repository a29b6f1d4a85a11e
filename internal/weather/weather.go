// Package weather はエリアの現況レコードから天気情報を導出する。
// 上流の文字列フィールドは "--" を未知値として扱う。
package weather

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hitoshi/powderwatch/internal/model"
)

// Placeholder は上流が値なしを表すために使う文字列。
const Placeholder = "--"

// DefaultCondition は未定義のSkies文字列に対するフォールバック。
const DefaultCondition = "sunny"

var bearings = map[string]int{
	"N":   0,
	"NNE": 22,
	"NE":  45,
	"ENE": 67,
	"E":   90,
	"ESE": 112,
	"SE":  135,
	"SSE": 157,
	"S":   180,
	"SSW": 202,
	"SW":  225,
	"WSW": 247,
	"W":   270,
	"WNW": 292,
	"NW":  315,
	"NNW": 337,
}

var conditions = map[string]string{
	"clear":         "sunny",
	"cloudy":        "cloudy",
	"fog":           "fog",
	"hail":          "hail",
	"lightning":     "lightning",
	"rainy":         "rainy",
	"snowy":         "snowy",
	"windy":         "windy",
	"partly cloudy": "partly-cloudy",
}

// 追加属性から除外する表示済みフィールド
var excludedExtra = []string{
	"Name",
	"Icon",
	"IconFADefault",
	"TemperatureF",
	"TemperatureC",
	"TemperatureLowF",
	"TemperatureHighF",
	"TemperatureLowC",
	"TemperatureHighC",
	"PressureIN",
	"PressureMB",
	"WindDirection",
	"WindStrengthMph",
	"WindStrengthKph",
	"HumidityC",
	"HumidityF",
	"DewPointC",
	"DewPointF",
	"Conditions",
}

// DirectionToBearing は16方位の風向ラベルを方位角に変換する。
// 未知のラベルはfalseを返す。
func DirectionToBearing(direction string) (int, bool) {
	b, ok := bearings[strings.ToUpper(direction)]
	return b, ok
}

// MapConditionStrict はSkies文字列を天気コンディションに変換する。
// 表にない入力はfalseを返す。
func MapConditionStrict(condition string) (string, bool) {
	c, ok := conditions[strings.ToLower(condition)]
	return c, ok
}

// MapCondition はSkies文字列を天気コンディションに変換する。
// 表にない入力は DefaultCondition を返す。
func MapCondition(condition string) string {
	if c, ok := MapConditionStrict(condition); ok {
		return c
	}
	return DefaultCondition
}

// Observation はエリアの現在の気象観測値。
// 未知の値はnilで表す。
type Observation struct {
	TemperatureC *float64
	Humidity     *int
	WindSpeedKph *float64
	WindBearing  *int
	PressureMB   *float64
	// Condition はSkiesがない場合は空文字列。
	Condition string
	// ConditionUnmapped はSkiesが変換表になく既定値を使ったことを示す。
	ConditionUnmapped bool
	Extra             model.Attributes
}

// Current はエリアの現況レコードから観測値を導出する。
func Current(area model.Attributes) Observation {
	obs := Observation{Extra: model.Attributes{}}
	if area == nil {
		return obs
	}

	if v, ok := ParseNumber(area["TemperatureC"]); ok {
		obs.TemperatureC = &v
	}
	if v, ok := parseInt(area["Humidity"]); ok {
		obs.Humidity = &v
	}
	if v, ok := ParseNumber(area["WindStrengthKph"]); ok {
		obs.WindSpeedKph = &v
	}
	if dir := area.Text("WindDirection"); dir != "" {
		if b, ok := DirectionToBearing(dir); ok {
			obs.WindBearing = &b
		}
	}
	if v, ok := ParseNumber(area["PressureMB"]); ok {
		obs.PressureMB = &v
	}
	if skies := area.Text("Skies"); skies != "" {
		c, ok := MapConditionStrict(skies)
		if !ok {
			c = DefaultCondition
			obs.ConditionUnmapped = true
		}
		obs.Condition = c
	}

	obs.Extra = area.Without(excludedExtra...)
	return obs
}

// ParseNumber は上流の数値フィールドをfloat64に変換する。
// プレースホルダ、空文字列、変換不能な値はfalseを返す。
func ParseNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == Placeholder {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func parseInt(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == Placeholder {
			return 0, false
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return i, true
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case float64:
		return int(x), true
	case int:
		return x, true
	default:
		return 0, false
	}
}
