package model

import "time"

// AllResorts は全リゾートを監視対象とする選択肢。
const AllResorts = "All"

// Subscription は監視設定（対象リゾートの集合）を表す。
// 対象リゾートはセットアップ時に固定され、以降は変更しない。
type Subscription struct {
	ID        string
	Title     string
	Resorts   []string
	CreatedAt time.Time
}

// WatchesAll は全リゾートを対象とする購読かどうかを返す。
func (s *Subscription) WatchesAll() bool {
	for _, r := range s.Resorts {
		if r == AllResorts {
			return true
		}
	}
	return false
}

// PollStats はポーラーの日次カウンタのスナップショット。
type PollStats struct {
	UpdatesToday   int       `json:"updates_today"`
	NoUpdatesToday int       `json:"no_updates_today"`
	ResetDate      string    `json:"reset_date"`
	LastPolledAt   time.Time `json:"last_polled_at"`
	ETag           string    `json:"etag,omitempty"`
	LastModified   string    `json:"last_modified,omitempty"`
	HasPayload     bool      `json:"has_payload"`
}
