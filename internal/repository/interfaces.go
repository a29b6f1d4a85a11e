// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/powderwatch/internal/model"
)

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// Create は購読を作成する。
	Create(ctx context.Context, sub *model.Subscription) error

	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// List は全購読を作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.Subscription, error)

	// Delete は指定IDの購読を削除する。
	// 存在しない場合はmodel.ErrSubscriptionNotFoundを返す。
	// 関連するentity_statesはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// EntityStateRepository はエンティティ状態の永続化インターフェース。
type EntityStateRepository interface {
	// UpsertStates は状態を同一トランザクションでUPSERTする。
	UpsertStates(ctx context.Context, states []model.EntityState) error

	// ListBySubscription は購読の全エンティティ状態をentity_id順に返す。
	ListBySubscription(ctx context.Context, subscriptionID string) ([]model.EntityState, error)

	// DeleteBySubscription は購読の全エンティティ状態を削除する。
	DeleteBySubscription(ctx context.Context, subscriptionID string) error

	// DeleteUpdatedBefore は指定日時より前に更新された状態を削除し、削除件数を返す。
	DeleteUpdatedBefore(ctx context.Context, before time.Time) (int64, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
