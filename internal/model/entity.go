package model

import "time"

// EntityKind は公開エンティティの種別。
type EntityKind string

const (
	EntityKindSensor  EntityKind = "sensor"
	EntityKindWeather EntityKind = "weather"
)

// EntityState は1つの公開値（センサーまたは天気）の状態を表す。
// EntityIDは上流の名前が変わらない限りポーリングをまたいで安定する。
type EntityState struct {
	SubscriptionID string     `json:"subscription_id"`
	EntityID       string     `json:"entity_id"`
	Name           string     `json:"name"`
	Kind           EntityKind `json:"kind"`
	State          any        `json:"state"`
	Unit           string     `json:"unit,omitempty"`
	Attributes     Attributes `json:"attributes"`
	Available      bool       `json:"available"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
