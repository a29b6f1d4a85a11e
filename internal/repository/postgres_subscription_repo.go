package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/powderwatch/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
// 対象リゾートはTEXT[]カラムに保存する。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// Create は購読を作成する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, title, resorts, created_at)
		 VALUES ($1, $2, $3, $4)`,
		sub.ID, sub.Title, pq.StringArray(sub.Resorts), sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var resorts pq.StringArray
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, resorts, created_at FROM subscriptions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.Title, &resorts, &sub.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	sub.Resorts = []string(resorts)
	return sub, nil
}

// List は全購読を作成日時の昇順で返す。
func (r *PostgresSubscriptionRepo) List(ctx context.Context) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, resorts, created_at FROM subscriptions ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{}
		var resorts pq.StringArray
		if err := rows.Scan(&sub.ID, &sub.Title, &resorts, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		sub.Resorts = []string(resorts)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// Delete は指定IDの購読を削除する。
func (r *PostgresSubscriptionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return model.ErrSubscriptionNotFound
	}
	return nil
}
