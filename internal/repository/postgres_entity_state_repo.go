package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/powderwatch/internal/model"
)

// PostgresEntityStateRepo はPostgreSQLを使用したエンティティ状態リポジトリ。
// 値と属性はJSONBで保存する。
type PostgresEntityStateRepo struct {
	db *sql.DB
}

// NewPostgresEntityStateRepo はPostgresEntityStateRepoを生成する。
func NewPostgresEntityStateRepo(db *sql.DB) *PostgresEntityStateRepo {
	return &PostgresEntityStateRepo{db: db}
}

const upsertStateSQL = `
INSERT INTO entity_states (subscription_id, entity_id, name, kind, state, unit, attributes, available, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (subscription_id, entity_id) DO UPDATE SET
	name = EXCLUDED.name,
	kind = EXCLUDED.kind,
	state = EXCLUDED.state,
	unit = EXCLUDED.unit,
	attributes = EXCLUDED.attributes,
	available = EXCLUDED.available,
	updated_at = EXCLUDED.updated_at`

// UpsertStates は状態を同一トランザクションでUPSERTする。
// 1件でも失敗した場合は全件ロールバックする。
func (r *PostgresEntityStateRepo) UpsertStates(ctx context.Context, states []model.EntityState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertStateSQL)
	if err != nil {
		return fmt.Errorf("UPSERT文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for i := range states {
		s := &states[i]
		state, err := encodeState(s.State)
		if err != nil {
			return fmt.Errorf("状態のエンコードに失敗しました (%s): %w", s.EntityID, err)
		}
		attrs, err := encodeAttributes(s.Attributes)
		if err != nil {
			return fmt.Errorf("属性のエンコードに失敗しました (%s): %w", s.EntityID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			s.SubscriptionID, s.EntityID, s.Name, string(s.Kind),
			state, s.Unit, attrs, s.Available, s.UpdatedAt,
		); err != nil {
			return fmt.Errorf("エンティティ状態のUPSERTに失敗しました (%s): %w", s.EntityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListBySubscription は購読の全エンティティ状態をentity_id順に返す。
func (r *PostgresEntityStateRepo) ListBySubscription(ctx context.Context, subscriptionID string) ([]model.EntityState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT subscription_id, entity_id, name, kind, state, unit, attributes, available, updated_at
		 FROM entity_states WHERE subscription_id = $1 ORDER BY entity_id ASC`,
		subscriptionID,
	)
	if err != nil {
		return nil, fmt.Errorf("エンティティ状態一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	states := []model.EntityState{}
	for rows.Next() {
		var s model.EntityState
		var kind string
		var state, attrs []byte
		if err := rows.Scan(&s.SubscriptionID, &s.EntityID, &s.Name, &kind, &state, &s.Unit, &attrs, &s.Available, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("エンティティ状態行の読み取りに失敗しました: %w", err)
		}
		s.Kind = model.EntityKind(kind)
		if s.State, err = decodeState(state); err != nil {
			return nil, fmt.Errorf("状態のデコードに失敗しました (%s): %w", s.EntityID, err)
		}
		if s.Attributes, err = decodeAttributes(attrs); err != nil {
			return nil, fmt.Errorf("属性のデコードに失敗しました (%s): %w", s.EntityID, err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エンティティ状態一覧の走査に失敗しました: %w", err)
	}
	return states, nil
}

// DeleteBySubscription は購読の全エンティティ状態を削除する。
func (r *PostgresEntityStateRepo) DeleteBySubscription(ctx context.Context, subscriptionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entity_states WHERE subscription_id = $1`, subscriptionID)
	if err != nil {
		return fmt.Errorf("エンティティ状態の削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteUpdatedBefore は指定日時より前に更新された状態を削除し、削除件数を返す。
func (r *PostgresEntityStateRepo) DeleteUpdatedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entity_states WHERE updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("古いエンティティ状態の削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// encodeState は値をJSONBパラメータに変換する。nilはSQL NULLとする。
func encodeState(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func encodeAttributes(attrs model.Attributes) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeState はJSONBの値を復元する。数値はjson.Numberのまま保持する。
func decodeState(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeAttributes(b []byte) (model.Attributes, error) {
	attrs := model.Attributes{}
	if len(b) == 0 {
		return attrs, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = model.Attributes{}
	}
	return attrs, nil
}
