// Package actuator 把执行器意图变成对外的 MQTT 指令。
// 每个角色一条串行指令通道，同一设备的指令绝不并发下发。
package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// Publisher 定义指令下发所需的 MQTT 客户端方法，便于测试替身
type Publisher interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// WriterConfig 指令通道的专属配置
type WriterConfig struct {
	Broker    string `mapstructure:"broker"`
	ClientID  string `mapstructure:"clientID"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	BaseTopic string `mapstructure:"baseTopic"`
	QoS       byte   `mapstructure:"qos"`
}

// command 落到线上的指令报文
type command struct {
	Role    string    `json:"role"`
	On      bool      `json:"on"`
	Level   float64   `json:"level,omitempty"`
	PulseMs int64     `json:"pulseMs,omitempty"`
	Reason  string    `json:"reason"`
	Ts      time.Time `json:"ts"`
}

// Writer 指令写出器
type Writer struct {
	ctx     context.Context
	logger  *zap.Logger
	alert   func(pkg.AlertEvent)
	Client  Publisher
	config  *WriterConfig
	timeout time.Duration

	mu    sync.Mutex
	lanes map[pkg.Role]chan pkg.ActuatorIntent
}

func New(ctx context.Context, alert func(pkg.AlertEvent)) (*Writer, error) {
	config := pkg.ConfigFromContext(ctx)
	var wc WriterConfig
	if err := mapstructure.Decode(config.Actuator.Para, &wc); err != nil {
		return nil, fmt.Errorf("解析指令通道配置失败: %w", err)
	}
	if wc.BaseTopic == "" {
		room := config.Room.Name
		if room == "" {
			room = "room"
		}
		wc.BaseTopic = "growgate/" + room
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(wc.Broker)
	opts.SetClientID(wc.ClientID)
	opts.SetUsername(wc.Username)
	opts.SetPassword(wc.Password)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(5 * time.Minute)

	return &Writer{
		ctx:     ctx,
		logger:  pkg.LoggerFromContext(ctx),
		alert:   alert,
		Client:  mqtt.NewClient(opts),
		config:  &wc,
		timeout: config.Actuator.CommandTimeout,
		lanes:   make(map[pkg.Role]chan pkg.ActuatorIntent),
	}, nil
}

// Start 建立 MQTT 连接
func (w *Writer) Start() error {
	if token := w.Client.Connect(); token.Wait() && token.Error() != nil {
		pkg.GetPerformanceMetrics().IncMsgErrors("actuator_connect")
		pkg.ErrChanFromContext(w.ctx) <- fmt.Errorf("指令通道连接失败: %w", token.Error())
	}
	return nil
}

// Close 断开连接
func (w *Writer) Close() error {
	if w.Client != nil && w.Client.IsConnected() {
		w.Client.Disconnect(250)
	}
	return nil
}

// Submit 把意图投进对应角色的串行通道。
// 安全驱动的关断指令先清空通道里积压的旧指令再入队，停机不等排队
func (w *Writer) Submit(in pkg.ActuatorIntent) {
	lane := w.laneFor(in.Role)
	if in.Priority == pkg.PrioritySafety && !in.On {
	flush:
		for {
			select {
			case stale := <-lane:
				w.logger.Debug("停机冲洗积压指令", zap.String("role", string(stale.Role)))
			default:
				break flush
			}
		}
	}
	select {
	case lane <- in:
	default:
		// 通道积压说明设备失联，丢最新的并告警
		w.alert(pkg.NewAlert(pkg.SeverityWarning, "actuator",
			fmt.Sprintf("角色 %s 指令通道积压，指令被丢弃: %v", in.Role, pkg.ErrDeviceUnreachable)))
	}
}

// laneFor 按需建立角色的串行通道和它的worker
func (w *Writer) laneFor(role pkg.Role) chan pkg.ActuatorIntent {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lane, ok := w.lanes[role]; ok {
		return lane
	}
	lane := make(chan pkg.ActuatorIntent, 16)
	w.lanes[role] = lane
	go w.runLane(role, lane)
	return lane
}

func (w *Writer) runLane(role pkg.Role, lane chan pkg.ActuatorIntent) {
	for {
		select {
		case <-w.ctx.Done():
			return
		case in := <-lane:
			w.deliver(in)
			// 限时脉冲：到时补一条关断，泵类设备绝不连续运行
			if in.Pulse > 0 && in.On {
				select {
				case <-w.ctx.Done():
					w.deliver(pkg.OffIntent(role, "pulse abort"))
					return
				case <-time.After(in.Pulse):
					w.deliver(pkg.OffIntent(role, "pulse end"))
				}
			}
		}
	}
}

// deliver 真正发布一条指令，超时按设备失联告警
func (w *Writer) deliver(in pkg.ActuatorIntent) {
	metrics := pkg.GetPerformanceMetrics()
	cmd := command{
		Role:   string(in.Role),
		On:     in.On,
		Level:  in.Level,
		Reason: in.Reason,
		Ts:     in.Ts,
	}
	if cmd.Ts.IsZero() {
		cmd.Ts = time.Now()
	}
	if in.Pulse > 0 {
		cmd.PulseMs = in.Pulse.Milliseconds()
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		metrics.IncMsgErrors("actuator")
		w.logger.Error("序列化指令失败", zap.Error(err))
		return
	}
	topic := fmt.Sprintf("%s/cmd/%s", w.config.BaseTopic, in.Role)
	token := w.Client.Publish(topic, w.config.QoS, false, payload)
	if !token.WaitTimeout(w.timeout) || token.Error() != nil {
		metrics.IncMsgErrors("actuator")
		w.alert(pkg.NewAlert(pkg.SeverityWarning, "actuator",
			fmt.Sprintf("指令下发失败 %s: %v", in.Role, pkg.ErrDeviceUnreachable)))
		return
	}
	metrics.IncMsgProcessed("actuator")
	w.logger.Info("指令已下发",
		zap.String("topic", topic), zap.Bool("on", in.On), zap.String("reason", in.Reason))
}
