// Package model はドメインモデルを定義する。
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ErrTrailingData は1つ目のJSON値の後に余分なデータが続くことを示す。
var ErrTrailingData = errors.New("JSON値の後に余分なデータがあります")

// Attributes は上流フィードの任意キーを保持する属性マップ。
// 数値は json.Number のまま保持する。
type Attributes map[string]any

// Text は指定キーの値が文字列の場合にその値を返す。
func (a Attributes) Text(key string) string {
	if a == nil {
		return ""
	}
	if s, ok := a[key].(string); ok {
		return s
	}
	return ""
}

// Without は指定キーを除外したコピーを返す。
func (a Attributes) Without(keys ...string) Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// FeedPayload は上流フィードのJSONドキュメント全体を表す。
// パース後は不変として扱い、更新時は丸ごと差し替える。
type FeedPayload struct {
	Resorts []ResortRecord `json:"Resorts"`
}

// ResortRecord は1つのリゾートのデータを表す。
type ResortRecord struct {
	Name              string                `json:"Name"`
	OperatingStatus   any                   `json:"OperatingStatus"`
	SnowReport        Attributes            `json:"SnowReport"`
	MountainAreas     []AreaRecord          `json:"MountainAreas"`
	CurrentConditions map[string]Attributes `json:"CurrentConditions"`
	Forecast          map[string]Attributes `json:"Forecast"`
}

// AreaRecord はリゾート内のエリア（ベース、山頂など）を表す。
// 件数系のフィールドは上流の型をそのまま保持する。
type AreaRecord struct {
	Name             string       `json:"Name"`
	OpenTrailsCount  any          `json:"OpenTrailsCount"`
	TotalTrailsCount any          `json:"TotalTrailsCount"`
	LastUpdate       any          `json:"LastUpdate"`
	Trails           []Attributes `json:"Trails"`
	Lifts            []Attributes `json:"Lifts"`
	Activities       []Attributes `json:"Activities"`
}

// DecodeFeedPayload はJSONバイト列をFeedPayloadにデコードする。
// 数値の桁落ちを避けるため json.Number を使用する。
// 本文全体が1つのJSON値でなければエラーとする。
func DecodeFeedPayload(body []byte) (*FeedPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload FeedPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return &payload, nil
}

// FindResort は名前でリゾートを検索する。見つからない場合はnilを返す。
func (p *FeedPayload) FindResort(name string) *ResortRecord {
	if p == nil {
		return nil
	}
	for i := range p.Resorts {
		if p.Resorts[i].Name == name {
			return &p.Resorts[i]
		}
	}
	return nil
}

// ResortNames はペイロードに含まれるリゾート名を出現順・重複なしで返す。
func (p *FeedPayload) ResortNames() []string {
	if p == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(p.Resorts))
	names := make([]string, 0, len(p.Resorts))
	for _, r := range p.Resorts {
		if r.Name == "" {
			continue
		}
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		names = append(names, r.Name)
	}
	return names
}

// FindArea は名前でエリアを検索する。
func (r *ResortRecord) FindArea(name string) *AreaRecord {
	if r == nil {
		return nil
	}
	for i := range r.MountainAreas {
		if r.MountainAreas[i].Name == name {
			return &r.MountainAreas[i]
		}
	}
	return nil
}

// ItemKind はエリア内アイテムの種別。
type ItemKind string

const (
	ItemKindTrail    ItemKind = "trail"
	ItemKindLift     ItemKind = "lift"
	ItemKindActivity ItemKind = "activity"
)

// Items は種別に対応するアイテム一覧を返す。
func (a *AreaRecord) Items(kind ItemKind) []Attributes {
	if a == nil {
		return nil
	}
	switch kind {
	case ItemKindTrail:
		return a.Trails
	case ItemKindLift:
		return a.Lifts
	case ItemKindActivity:
		return a.Activities
	default:
		return nil
	}
}

// FindItem は種別と名前でアイテムを検索する。
func (a *AreaRecord) FindItem(kind ItemKind, name string) Attributes {
	for _, item := range a.Items(kind) {
		if item.Text("Name") == name {
			return item
		}
	}
	return nil
}
