package pkg

import (
	"fmt"
	"time"
)

// Quantity 受控或被测的物理量
type Quantity string

const (
	QuantityTemperature Quantity = "temperature" // °C
	QuantityHumidity    Quantity = "humidity"    // %
	QuantityCO2         Quantity = "co2"         // ppm
	QuantityVPD         Quantity = "vpd"         // kPa，派生量
	QuantityDewpoint    Quantity = "dewpoint"    // °C，派生量
	QuantityEC          Quantity = "ec"          // µS/cm
	QuantityPH          Quantity = "ph"
	QuantityWaterLevel  Quantity = "waterlevel" // %
	QuantityPPFD        Quantity = "ppfd"       // µmol/m²/s
	QuantityLux         Quantity = "lux"        // 照度，无PPFD传感器时的折算来源
)

// Reading 是Connector和Aggregator之间传递的数据结构。
// 一旦产生不可变，同角色的新读数直接取代旧读数。
type Reading struct {
	Role     Role     `json:"role"`
	Quantity Quantity `json:"quantity"`
	Value    float64  `json:"value"`
	Unit     string   `json:"unit"`
	Ts       time.Time `json:"ts"`
}

// String 方法实现
func (r Reading) String() string {
	return fmt.Sprintf("Reading(Role=%s, Quantity=%s, Value=%.3f%s, Ts=%s)",
		r.Role, r.Quantity, r.Value, r.Unit, r.Ts.Format(time.RFC3339))
}

// RoleQuantity 角色默认量的映射，传感器上报未带量名时按角色推断
func RoleQuantity(role Role) (Quantity, bool) {
	switch role {
	case RoleSensorTemp:
		return QuantityTemperature, true
	case RoleSensorHumidity:
		return QuantityHumidity, true
	case RoleSensorCO2:
		return QuantityCO2, true
	case RoleSensorVPD:
		return QuantityVPD, true
	case RoleSensorEC:
		return QuantityEC, true
	case RoleSensorPH:
		return QuantityPH, true
	case RoleSensorWaterLevel:
		return QuantityWaterLevel, true
	case RoleSensorPPFD:
		return QuantityPPFD, true
	case RoleSensorLux:
		return QuantityLux, true
	}
	return "", false
}
