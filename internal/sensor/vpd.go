package sensor

import "math"

// 饱和水汽压用 Tetens 公式（kPa）。叶面 VPD 按叶温 = 气温 - leafTempOffset
// 计算，是 OGB 一直使用的约定；本仓库统一采用这一个公式变体。

// SaturationVaporPressure 温度T(°C)下的饱和水汽压，单位 kPa
func SaturationVaporPressure(tempC float64) float64 {
	return 0.6108 * math.Exp(17.27*tempC/(tempC+237.3))
}

// VPD 由气温(°C)、相对湿度(%)和叶温偏移(°C)计算叶面水汽压差，单位 kPa。
// 纯函数：同样输入永远得到同样输出。
func VPD(tempC, rh, leafTempOffset float64) float64 {
	leafTemp := tempC - leafTempOffset
	svpLeaf := SaturationVaporPressure(leafTemp)
	avpAir := SaturationVaporPressure(tempC) * rh / 100.0
	vpd := svpLeaf - avpAir
	if vpd < 0 {
		return 0
	}
	return vpd
}

// Dewpoint 由气温(°C)和相对湿度(%)估算露点(°C)，与 VPD 共用同一组 Tetens 常数
func Dewpoint(tempC, rh float64) float64 {
	if rh <= 0 {
		rh = 0.1 // ln(0) 防护
	}
	gamma := math.Log(rh/100.0) + 17.27*tempC/(237.3+tempC)
	return 237.3 * gamma / (17.27 - gamma)
}
