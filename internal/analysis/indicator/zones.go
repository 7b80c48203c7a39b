package indicator

import "perpflow/internal/market"

type ZoneKind string

const (
	ZoneDemand ZoneKind = "demand"
	ZoneSupply ZoneKind = "supply"
)

// Zone 突破 K 线之前那根 K 线的高低区间。
type Zone struct {
	Kind     ZoneKind `json:"kind"`
	Low      float64  `json:"low"`
	High     float64  `json:"high"`
	OpenTime int64    `json:"open_time"`
}

// Contains tolerance 为相对价格的外扩比例。
func (z Zone) Contains(price, tolerance float64) bool {
	return price >= z.Low*(1-tolerance) && price <= z.High*(1+tolerance)
}

// FindZones 扫描实体超过 bodyATR 倍 ATR 的突破 K 线，阳线生成需求区，阴线生成供给区。
// 每类只保留最近 maxZones 个。
func FindZones(candles []market.Candle, atr []float64, bodyATR float64, maxZones int) []Zone {
	if maxZones <= 0 {
		maxZones = 3
	}
	var demand, supply []Zone
	for i := len(candles) - 1; i >= 1; i-- {
		if len(demand) >= maxZones && len(supply) >= maxZones {
			break
		}
		a, ok := at(atr, i)
		if !ok {
			continue
		}
		c := candles[i]
		if c.Body() <= bodyATR*a {
			continue
		}
		prev := candles[i-1]
		z := Zone{Low: prev.Low, High: prev.High, OpenTime: prev.OpenTime}
		if c.Close > c.Open && len(demand) < maxZones {
			z.Kind = ZoneDemand
			demand = append(demand, z)
		} else if c.Close < c.Open && len(supply) < maxZones {
			z.Kind = ZoneSupply
			supply = append(supply, z)
		}
	}
	return append(demand, supply...)
}

// ZoneHits 返回价格是否落在任一需求区/供给区内。
func ZoneHits(zones []Zone, price, tolerance float64) (inDemand, inSupply bool) {
	for _, z := range zones {
		if !z.Contains(price, tolerance) {
			continue
		}
		switch z.Kind {
		case ZoneDemand:
			inDemand = true
		case ZoneSupply:
			inSupply = true
		}
	}
	return inDemand, inSupply
}
