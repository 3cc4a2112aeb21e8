package pkg

// Role 设备的逻辑角色，注册表以角色为键
type Role string

const (
	RoleLightMain     Role = "light-main"
	RoleLightUV       Role = "light-uv"
	RoleLightFarRed   Role = "light-farred"
	RoleFanExhaust    Role = "fan-exhaust"
	RoleFanIntake     Role = "fan-intake"
	RoleHumidifier    Role = "humidifier"
	RoleDehumidifier  Role = "dehumidifier"
	RoleHeater        Role = "heater"
	RoleCooler        Role = "cooler"
	RoleCO2           Role = "co2-controller"
	RolePumpNutrientA Role = "pump-nutrient-a"
	RolePumpNutrientB Role = "pump-nutrient-b"
	RolePumpPHDown    Role = "pump-ph-down"
	RolePumpPHUp      Role = "pump-ph-up"

	RoleSensorTemp       Role = "sensor-temp"
	RoleSensorHumidity   Role = "sensor-humidity"
	RoleSensorCO2        Role = "sensor-co2"
	RoleSensorVPD        Role = "sensor-vpd"
	RoleSensorEC         Role = "sensor-ec"
	RoleSensorPH         Role = "sensor-ph"
	RoleSensorWaterLevel Role = "sensor-waterlevel"
	RoleSensorPPFD       Role = "sensor-ppfd"
	RoleSensorLux        Role = "sensor-lux"
)

// Capability 设备能力集，按位组合
type Capability uint8

const (
	CapReadable Capability = 1 << iota // 可读取数值
	CapWritable                        // 可下发指令
)

func (c Capability) Readable() bool { return c&CapReadable != 0 }
func (c Capability) Writable() bool { return c&CapWritable != 0 }

// Mode 房间运行模式
type Mode string

const (
	ModeAuto          Mode = "auto"
	ModeManual        Mode = "manual"
	ModeEmergencyStop Mode = "estop"
)
