// Package projection はフィードペイロードから個々の公開値を導出する。
// すべての関数は純粋で、ペイロードを変更しない。
package projection

import "fmt"

// Kind はセレクタの種別。
type Kind string

const (
	KindOperatingStatus Kind = "operating_status"
	KindSnowReport      Kind = "snow_report"
	KindArea            Kind = "area"
	KindTrail           Kind = "trail"
	KindLift            Kind = "lift"
	KindActivity        Kind = "activity"
	KindStat            Kind = "stats"
)

// Stat はポーラー由来の統計値の種別。
type Stat string

const (
	StatUpdatesToday   Stat = "updates_today"
	StatNoUpdatesToday Stat = "no_updates_today"
)

// Stats は公開する統計値の一覧。
var Stats = []Stat{StatUpdatesToday, StatNoUpdatesToday}

// Selector は1つの公開値を指し示す。
// Kindごとに使用するフィールドが決まっており、それ以外は空のままにする。
type Selector struct {
	Kind Kind
	// Key はKindSnowReportのキー名。
	Key string
	// Area はKindArea、KindTrail、KindLift、KindActivityのエリア名。
	Area string
	// Item はKindTrail、KindLift、KindActivityのアイテム名。
	Item string
	// Stat はKindStatの統計種別。
	Stat Stat
}

// OperatingStatus はリゾートの営業状況を指すセレクタを返す。
func OperatingStatus() Selector {
	return Selector{Kind: KindOperatingStatus}
}

// SnowReport はスノーレポートの1項目を指すセレクタを返す。
func SnowReport(key string) Selector {
	return Selector{Kind: KindSnowReport, Key: key}
}

// Area はエリアのオープンコース数を指すセレクタを返す。
func Area(area string) Selector {
	return Selector{Kind: KindArea, Area: area}
}

// Trail はコースの状態を指すセレクタを返す。
func Trail(area, name string) Selector {
	return Selector{Kind: KindTrail, Area: area, Item: name}
}

// Lift はリフトの状態を指すセレクタを返す。
func Lift(area, name string) Selector {
	return Selector{Kind: KindLift, Area: area, Item: name}
}

// Activity はアクティビティの状態を指すセレクタを返す。
func Activity(area, name string) Selector {
	return Selector{Kind: KindActivity, Area: area, Item: name}
}

// StatOf は統計値を指すセレクタを返す。
func StatOf(stat Stat) Selector {
	return Selector{Kind: KindStat, Stat: stat}
}

// String はログ出力用の表現を返す。
func (s Selector) String() string {
	switch s.Kind {
	case KindSnowReport:
		return fmt.Sprintf("%s:%s", s.Kind, s.Key)
	case KindArea:
		return fmt.Sprintf("%s:%s", s.Kind, s.Area)
	case KindTrail, KindLift, KindActivity:
		return fmt.Sprintf("%s:%s/%s", s.Kind, s.Area, s.Item)
	case KindStat:
		return fmt.Sprintf("%s:%s", s.Kind, s.Stat)
	default:
		return string(s.Kind)
	}
}
