package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"perpflow/internal/risk"
	"perpflow/internal/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordTrade 写入一笔已平仓交易，重复 ID 忽略。
func (s *SqliteStore) RecordTrade(ctx context.Context, trade types.ClosedTrade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store 未初始化")
	}
	if strings.TrimSpace(trade.ID) == "" {
		return errors.New("trade id cannot be empty")
	}
	rationale, err := json.Marshal(trade.Rationale)
	if err != nil {
		return fmt.Errorf("marshal rationale: %w", err)
	}
	rec := TradeRecord{
		TradeID:       trade.ID,
		Symbol:        strings.ToUpper(strings.TrimSpace(trade.Symbol)),
		Side:          string(trade.Side),
		Size:          trade.Size,
		EntryPrice:    trade.EntryPrice,
		ExitPrice:     trade.ExitPrice,
		PnL:           trade.PnL,
		Fees:          trade.Fees,
		Reason:        trade.Reason,
		MAE:           trade.MAE,
		MFE:           trade.MFE,
		Bars:          trade.Bars,
		Rationale:     datatypes.JSON(rationale),
		OpenedAtUnix:  timeToMillis(trade.OpenedAt),
		ClosedAtUnix:  timeToMillis(trade.ClosedAt),
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_uuid"}},
		DoNothing: true,
	}).Create(&rec).Error
}

// ListTrades 按平仓时间倒序。
func (s *SqliteStore) ListTrades(ctx context.Context, symbol string, limit int) ([]types.ClosedTrade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlite store 未初始化")
	}
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("closed_at DESC, id DESC").Limit(limit)
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		q = q.Where("symbol = ?", sym)
	}
	var recs []TradeRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]types.ClosedTrade, 0, len(recs))
	for _, rec := range recs {
		out = append(out, tradeFromRecord(rec))
	}
	return out, nil
}

// SaveRiskState 覆盖单行快照。
func (s *SqliteStore) SaveRiskState(ctx context.Context, st risk.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlite store 未初始化")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal risk state: %w", err)
	}
	rec := RiskSnapshotRecord{ID: riskSnapshotID, State: datatypes.JSON(raw), UpdatedAtUnix: time.Now().UnixMilli()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

// LoadRiskState ok=false 表示尚未保存过。
func (s *SqliteStore) LoadRiskState(ctx context.Context) (risk.State, bool, error) {
	if s == nil || s.db == nil {
		return risk.State{}, false, fmt.Errorf("sqlite store 未初始化")
	}
	var rec RiskSnapshotRecord
	err := s.db.WithContext(ctx).Where("id = ?", riskSnapshotID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return risk.State{}, false, nil
	}
	if err != nil {
		return risk.State{}, false, err
	}
	var st risk.State
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return risk.State{}, false, fmt.Errorf("decode risk state: %w", err)
	}
	return st, true, nil
}

func tradeFromRecord(rec TradeRecord) types.ClosedTrade {
	var rationale []string
	if len(rec.Rationale) > 0 {
		_ = json.Unmarshal(rec.Rationale, &rationale)
	}
	return types.ClosedTrade{
		ID:         rec.TradeID,
		Symbol:     rec.Symbol,
		Side:       types.PositionSide(rec.Side),
		Size:       rec.Size,
		EntryPrice: rec.EntryPrice,
		ExitPrice:  rec.ExitPrice,
		PnL:        rec.PnL,
		Fees:       rec.Fees,
		Reason:     rec.Reason,
		MAE:        rec.MAE,
		MFE:        rec.MFE,
		Bars:       rec.Bars,
		Rationale:  rationale,
		OpenedAt:   millisToTime(rec.OpenedAtUnix),
		ClosedAt:   millisToTime(rec.ClosedAtUnix),
	}
}

func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
