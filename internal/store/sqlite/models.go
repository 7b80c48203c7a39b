package sqlite

import "gorm.io/datatypes"

// TradeRecord maps to 'trades'.
type TradeRecord struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TradeID       string         `gorm:"column:trade_uuid;uniqueIndex"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	Size          float64        `gorm:"column:size"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	ExitPrice     float64        `gorm:"column:exit_price"`
	PnL           float64        `gorm:"column:pnl"`
	Fees          float64        `gorm:"column:fees"`
	Reason        string         `gorm:"column:reason;index"`
	MAE           float64        `gorm:"column:mae"`
	MFE           float64        `gorm:"column:mfe"`
	Bars          int            `gorm:"column:bars"`
	Rationale     datatypes.JSON `gorm:"column:rationale;type:TEXT"`
	OpenedAtUnix  int64          `gorm:"column:opened_at"`
	ClosedAtUnix  int64          `gorm:"column:closed_at;index"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (TradeRecord) TableName() string { return "trades" }

// RiskSnapshotRecord 单行表，只保存最近一次的风控状态。
type RiskSnapshotRecord struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	State         datatypes.JSON `gorm:"column:state;type:TEXT"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (RiskSnapshotRecord) TableName() string { return "risk_snapshots" }

const riskSnapshotID = 1
