package profile

import "growgate/internal/pkg"

// Stage 生长阶段。推进只许向前，避免种植中途误退阶段
type Stage string

const (
	StageGermination Stage = "Germination"
	StageClones      Stage = "Clones"
	StageEarlyVeg    Stage = "EarlyVeg"
	StageMidVeg      Stage = "MidVeg"
	StageLateVeg     Stage = "LateVeg"
	StageEarlyFlower Stage = "EarlyFlower"
	StageMidFlower   Stage = "MidFlower"
	StageLateFlower  Stage = "LateFlower"

	// StageDrying 收获后干燥，不在推进次序里，只能经 StartDrying 进入
	StageDrying Stage = "Drying"
)

// stageOrder 阶段的先后次序
var stageOrder = []Stage{
	StageGermination, StageClones,
	StageEarlyVeg, StageMidVeg, StageLateVeg,
	StageEarlyFlower, StageMidFlower, StageLateFlower,
}

// stageIndex 返回阶段在次序表中的位置，未知阶段返回 -1
func stageIndex(s Stage) int {
	for i, v := range stageOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// stageEnvelope 单个阶段的环境包线基线
type stageEnvelope struct {
	VPD         pkg.Range
	Temperature pkg.Range
	Humidity    pkg.Range
	Intensity   pkg.Range // 灯光强度百分比区间
	PPFDTarget  float64
	DLITarget   float64
}

// 阶段基线表。VPD/温湿度区间沿用 OGB 发布的各阶段包线，
// 光强区间与 PPFD/DLI 目标取自其生长计划曲线的代表值。
var stageEnvelopes = map[Stage]stageEnvelope{
	StageGermination: {
		VPD:         pkg.Range{Min: 0.35, Max: 0.70},
		Temperature: pkg.Range{Min: 20, Max: 24},
		Humidity:    pkg.Range{Min: 78, Max: 85},
		Intensity:   pkg.Range{Min: 20, Max: 25},
		PPFDTarget:  200, DLITarget: 12,
	},
	StageClones: {
		VPD:         pkg.Range{Min: 0.40, Max: 0.85},
		Temperature: pkg.Range{Min: 20, Max: 24},
		Humidity:    pkg.Range{Min: 72, Max: 80},
		Intensity:   pkg.Range{Min: 20, Max: 25},
		PPFDTarget:  200, DLITarget: 12,
	},
	StageEarlyVeg: {
		VPD:         pkg.Range{Min: 0.60, Max: 1.20},
		Temperature: pkg.Range{Min: 22, Max: 26},
		Humidity:    pkg.Range{Min: 65, Max: 75},
		Intensity:   pkg.Range{Min: 25, Max: 35},
		PPFDTarget:  300, DLITarget: 20,
	},
	StageMidVeg: {
		VPD:         pkg.Range{Min: 0.75, Max: 1.45},
		Temperature: pkg.Range{Min: 23, Max: 27},
		Humidity:    pkg.Range{Min: 60, Max: 72},
		Intensity:   pkg.Range{Min: 35, Max: 45},
		PPFDTarget:  400, DLITarget: 30,
	},
	StageLateVeg: {
		VPD:         pkg.Range{Min: 0.90, Max: 1.65},
		Temperature: pkg.Range{Min: 24, Max: 27},
		Humidity:    pkg.Range{Min: 55, Max: 68},
		Intensity:   pkg.Range{Min: 45, Max: 55},
		PPFDTarget:  400, DLITarget: 30,
	},
	StageEarlyFlower: {
		VPD:         pkg.Range{Min: 0.80, Max: 1.55},
		Temperature: pkg.Range{Min: 22, Max: 26},
		Humidity:    pkg.Range{Min: 55, Max: 68},
		Intensity:   pkg.Range{Min: 70, Max: 100},
		PPFDTarget:  600, DLITarget: 35,
	},
	StageMidFlower: {
		VPD:         pkg.Range{Min: 0.90, Max: 1.70},
		Temperature: pkg.Range{Min: 21, Max: 25},
		Humidity:    pkg.Range{Min: 48, Max: 62},
		Intensity:   pkg.Range{Min: 70, Max: 100},
		PPFDTarget:  800, DLITarget: 45,
	},
	StageLateFlower: {
		VPD:         pkg.Range{Min: 0.90, Max: 1.85},
		Temperature: pkg.Range{Min: 19, Max: 24},
		Humidity:    pkg.Range{Min: 42, Max: 58},
		Intensity:   pkg.Range{Min: 70, Max: 100},
		PPFDTarget:  900, DLITarget: 50,
	},
}

// 阶段无关的默认目标区间
var (
	defaultCO2 = pkg.Range{Min: 800, Max: 1500}  // ppm
	defaultEC  = pkg.Range{Min: 800, Max: 1800}  // µS/cm
	defaultPH  = pkg.Range{Min: 5.5, Max: 6.5}   // 水培
)

// knownPlantTypes 可识别的植物类型
var knownPlantTypes = map[string]struct{}{
	"cannabis": {},
	"tomato":   {},
	"chili":    {},
	"basil":    {},
	"generic":  {},
}

// 光周期计划
const (
	PlanPhotoperiodic = "photoperiodic"
	PlanAuto          = "auto" // 自花授粉品种，全程不缩短光照
)

// 光周期默认时刻表：营养期 18/6，开花期 12/12。
// auto 计划的植物不依赖光周期催花，开花期也保持 18/6。
func defaultPhotoperiod(plan string, s Stage) (lightOn, lightOff string) {
	if plan != PlanAuto && stageIndex(s) >= stageIndex(StageEarlyFlower) {
		return "06:00", "18:00"
	}
	return "06:00", "00:00"
}
