package pkg

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SinkConfig 遥测下游的通用配置块，Para 为各 sink 的自定义配置项
type SinkConfig struct {
	Type   string         `mapstructure:"type"`    // sink类型: influxdb | kafka | prometheus
	Enable bool           `mapstructure:"enable"`  // 是否启用
	Para   map[string]any `mapstructure:",remain"` // 自定义配置项
}

// ChannelConfig 通知渠道的通用配置块
type ChannelConfig struct {
	Type       string         `mapstructure:"type"`       // 渠道类型: log | mqtt
	Enable     bool           `mapstructure:"enable"`     // 是否启用
	Severities []string       `mapstructure:"severities"` // 接收的告警级别，空则全收
	Para       map[string]any `mapstructure:",remain"`
}

type LogConfig struct {
	LogPath    string `mapstructure:"log_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Level      string `mapstructure:"level"`
}

// RoomConfig 一个控制器实例只管理一个种植间
type RoomConfig struct {
	Name           string  `mapstructure:"name"`
	LeafTempOffset float64 `mapstructure:"leafTempOffset"` // 叶温偏移，VPD计算用，默认2.0
}

type ConnectorConfig struct {
	Type string         `mapstructure:"type"` // mqtt | http
	Para map[string]any `mapstructure:",remain"`
}

// ActuatorConfig 执行器指令下发通道的配置
type ActuatorConfig struct {
	Type           string         `mapstructure:"type"` // mqtt
	CommandTimeout time.Duration  `mapstructure:"commandTimeout"`
	Para           map[string]any `mapstructure:",remain"`
}

// SensorConfig 聚合器配置：各量的过期阈值与标定表达式
type SensorConfig struct {
	Interval  time.Duration            `mapstructure:"interval"`  // 快照发布周期
	Stale     map[string]time.Duration `mapstructure:"stale"`     // 量 -> 过期阈值
	Calibrate map[string]string        `mapstructure:"calibrate"` // 角色 -> expr标定表达式
}

// ProfileConfig 生长档案的初始配置，运行期通过API变更
type ProfileConfig struct {
	PlantType string         `mapstructure:"plantType"`
	Stage     string         `mapstructure:"stage"`
	Plan      string         `mapstructure:"plan"` // photoperiodic | auto
	Override  map[string]any `mapstructure:"override"`
}

type ControlConfig struct {
	Interval     time.Duration  `mapstructure:"interval"`     // 控制周期
	Dwell        map[string]int `mapstructure:"dwell"`        // 角色 -> 最小驻留tick数
	NightVPDHold bool           `mapstructure:"nightVPDHold"` // 熄灯期是否继续追VPD
}

// Range 闭区间 [Min, Max]
type Range struct {
	Min float64 `mapstructure:"min" json:"min"`
	Max float64 `mapstructure:"max" json:"max"`
}

type SafetyConfig struct {
	Hard     map[string]Range `mapstructure:"hard"`     // 量 -> 硬限幅，覆盖默认表
	Debounce time.Duration    `mapstructure:"debounce"` // 越限去抖窗口
}

// FarRedConfig 远红光在光周期起止的加强窗口
type FarRedConfig struct {
	Enable       bool `mapstructure:"enable"`
	StartMinutes int  `mapstructure:"startMinutes"`
	EndMinutes   int  `mapstructure:"endMinutes"`
	Intensity    int  `mapstructure:"intensity"`
}

// UVConfig UV灯在光周期中段的照射窗口
type UVConfig struct {
	Enable           bool `mapstructure:"enable"`
	DelayAfterStart  int  `mapstructure:"delayAfterStartMinutes"`
	StopBeforeEnd    int  `mapstructure:"stopBeforeEndMinutes"`
	MaxDurationHours int  `mapstructure:"maxDurationHours"`
	Intensity        int  `mapstructure:"intensity"`
}

type PhotoperiodConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	LightOn      string        `mapstructure:"lightOn"`  // "06:00"
	LightOff     string        `mapstructure:"lightOff"` // "00:00"
	SunriseMin   int           `mapstructure:"sunriseMinutes"`
	SunsetMin    int           `mapstructure:"sunsetMinutes"`
	LuxToPPFD    float64       `mapstructure:"luxToPPFDFactor"` // 无PPFD传感器时 PPFD = lux / 系数
	DLITolerance float64       `mapstructure:"dliTolerance"`    // 偏差超过该比例时告警
	FarRed       FarRedConfig  `mapstructure:"farRed"`
	UV           UVConfig      `mapstructure:"uv"`
}

type DosingConfig struct {
	Interval    time.Duration `mapstructure:"interval"`    // 配剂检查周期
	ShotMs      int           `mapstructure:"shotMs"`      // 单次脉冲时长(毫秒)
	ShotML      float64       `mapstructure:"shotML"`      // 单次脉冲剂量(毫升)
	MinShotGap  time.Duration `mapstructure:"minShotGap"`  // 两次脉冲的最小间隔
	Window      time.Duration `mapstructure:"window"`      // 滚动窗口长度
	MaxMLWindow float64       `mapstructure:"maxMLWindow"` // 窗口内总剂量上限
}

type NotifyConfig struct {
	QuietStart string          `mapstructure:"quietStart"` // "22:00"，空则无静默期
	QuietEnd   string          `mapstructure:"quietEnd"`
	Channels   []ChannelConfig `mapstructure:"channels"`
	RetryMax   int             `mapstructure:"retryMax"`
	QueueSize  int             `mapstructure:"queueSize"`
}

type APIConfig struct {
	Port   int  `mapstructure:"port"`
	Enable bool `mapstructure:"enable"`
}

type HistoryConfig struct {
	Enable   bool   `mapstructure:"enable"`
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type Config struct {
	Version     string            `mapstructure:"version"`
	Log         LogConfig         `mapstructure:"log"`
	Room        RoomConfig        `mapstructure:"room"`
	Connector   ConnectorConfig   `mapstructure:"connector"`
	Actuator    ActuatorConfig    `mapstructure:"actuator"`
	Sensor      SensorConfig      `mapstructure:"sensor"`
	Profile     ProfileConfig     `mapstructure:"profile"`
	Control     ControlConfig     `mapstructure:"control"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Photoperiod PhotoperiodConfig `mapstructure:"photoperiod"`
	Dosing      DosingConfig      `mapstructure:"dosing"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Sink        []SinkConfig      `mapstructure:"sink"`
	API         APIConfig         `mapstructure:"api"`
	History     HistoryConfig     `mapstructure:"history"`
}

// InitCommon 用于初始化全局配置：合并目录下所有 yaml 文件
func InitCommon(configDir string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::")) // 默认的 . 会和 IP、实体名冲突
	v.AddConfigPath(configDir)
	v.AutomaticEnv() // 读取环境变量
	// 遍历配置目录及其子目录中的所有文件
	err := filepath.WalkDir(configDir, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("访问路径 %s 失败: %w", filePath, err)
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(filePath)
		// 只处理 .yaml 或 .yml 文件
		if ext == ".yaml" || ext == ".yml" {
			v.SetConfigFile(filePath)
			// 读取并合并配置文件 (会覆盖之前的配置)
			if err := v.MergeInConfig(); err != nil {
				return fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("反序列化配置失败: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

// applyDefaults 给未配置的周期类参数补默认值
func (c *Config) applyDefaults() {
	if c.Room.LeafTempOffset == 0 {
		c.Room.LeafTempOffset = 2.0
	}
	if c.Sensor.Interval == 0 {
		c.Sensor.Interval = 5 * time.Second
	}
	if c.Control.Interval == 0 {
		c.Control.Interval = 10 * time.Second
	}
	if c.Photoperiod.Interval == 0 {
		c.Photoperiod.Interval = 30 * time.Second
	}
	if c.Photoperiod.LuxToPPFD == 0 {
		c.Photoperiod.LuxToPPFD = 15.0
	}
	if c.Photoperiod.DLITolerance == 0 {
		c.Photoperiod.DLITolerance = 0.15
	}
	if c.Dosing.Interval == 0 {
		c.Dosing.Interval = 5 * time.Minute
	}
	if c.Dosing.ShotMs == 0 {
		c.Dosing.ShotMs = 1500
	}
	if c.Dosing.ShotML == 0 {
		c.Dosing.ShotML = 2.0
	}
	if c.Dosing.MinShotGap == 0 {
		c.Dosing.MinShotGap = 60 * time.Second
	}
	if c.Dosing.Window == 0 {
		c.Dosing.Window = time.Hour
	}
	if c.Dosing.MaxMLWindow == 0 {
		c.Dosing.MaxMLWindow = 50.0
	}
	if c.Safety.Debounce == 0 {
		c.Safety.Debounce = 30 * time.Second
	}
	if c.Actuator.CommandTimeout == 0 {
		c.Actuator.CommandTimeout = 5 * time.Second
	}
	if c.Notify.RetryMax == 0 {
		c.Notify.RetryMax = 5
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
}
