package profile

import (
	"time"

	"growgate/internal/pkg"
)

// DryMode 收获后干燥计划。干燥期整体接管档案：灯全灭、CO2与配剂停控，
// 温湿度按时段表收紧
type DryMode string

const (
	DryElClassico DryMode = "ElClassico" // 经典三段等温慢干
	Dry5DayDry    DryMode = "5DayDry"    // 五天速干，按VPD走
	DryDewBased   DryMode = "DewBased"   // 露点导向慢干
)

// dryPhase 干燥的单个时段包线。VPD 为零区间表示该时段不设VPD目标，
// 控制回路退回按相对湿度驱动
type dryPhase struct {
	Name        string
	Temperature pkg.Range
	Humidity    pkg.Range
	VPD         pkg.Range
	Duration    time.Duration
}

// 各干燥模式的时段表。目标值来自 OGB 的干燥曲线，点目标展开成死区带：
// 温度 ±1°C，湿度 ±3%。DewBased 的露点目标（12.25/11.1°C）按 20°C
// 工作温度折算成等效湿度带
var dryPlans = map[DryMode][]dryPhase{
	DryElClassico: {
		{Name: "start", Temperature: pkg.Range{Min: 19, Max: 21},
			Humidity: pkg.Range{Min: 59, Max: 65}, Duration: 72 * time.Hour},
		{Name: "halfTime", Temperature: pkg.Range{Min: 19, Max: 21},
			Humidity: pkg.Range{Min: 57, Max: 63}, Duration: 72 * time.Hour},
		{Name: "endTime", Temperature: pkg.Range{Min: 19, Max: 21},
			Humidity: pkg.Range{Min: 55, Max: 61}, Duration: 72 * time.Hour},
	},
	Dry5DayDry: {
		{Name: "start", Temperature: pkg.Range{Min: 21.2, Max: 23.2},
			Humidity: pkg.Range{Min: 52, Max: 58},
			VPD:      pkg.Range{Min: 1.05, Max: 1.35}, Duration: 48 * time.Hour},
		{Name: "halfTime", Temperature: pkg.Range{Min: 21.3, Max: 23.3},
			Humidity: pkg.Range{Min: 49, Max: 55},
			VPD:      pkg.Range{Min: 1.24, Max: 1.54}, Duration: 24 * time.Hour},
		{Name: "endTime", Temperature: pkg.Range{Min: 21.9, Max: 23.9},
			Humidity: pkg.Range{Min: 47, Max: 53},
			VPD:      pkg.Range{Min: 1.35, Max: 1.65}, Duration: 48 * time.Hour},
	},
	DryDewBased: {
		{Name: "start", Temperature: pkg.Range{Min: 19, Max: 21},
			Humidity: pkg.Range{Min: 58, Max: 64}, Duration: 96 * time.Hour},
		{Name: "halfTime", Temperature: pkg.Range{Min: 19, Max: 21},
			Humidity: pkg.Range{Min: 54, Max: 60}, Duration: 96 * time.Hour},
		{Name: "endTime", Temperature: pkg.Range{Min: 19, Max: 21},
			Humidity: pkg.Range{Min: 54, Max: 60}, Duration: 48 * time.Hour},
	},
}

// dryPhaseAt 按已运行时长取当前时段，跑满全程后钉在末段
func dryPhaseAt(mode DryMode, elapsed time.Duration) (dryPhase, bool) {
	plan := dryPlans[mode]
	var offset time.Duration
	for _, ph := range plan {
		offset += ph.Duration
		if elapsed < offset {
			return ph, false
		}
	}
	return plan[len(plan)-1], true
}

// dryTotal 模式的全程时长
func dryTotal(mode DryMode) time.Duration {
	var sum time.Duration
	for _, ph := range dryPlans[mode] {
		sum += ph.Duration
	}
	return sum
}
