package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"growgate/internal/pkg"
	"growgate/internal/registry"
)

// MQTTClient 定义一个接口，包含需要的 MQTT 客户端方法
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// MqttConfig 包含 MQTT 接入通道的配置信息
type MqttConfig struct {
	Broker               string        `mapstructure:"broker"`
	ClientID             string        `mapstructure:"clientID"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	MaxReconnectInterval time.Duration `mapstructure:"maxReconnectInterval"`
	BaseTopic            string        `mapstructure:"baseTopic"` // 默认 growgate/<room>
	QoS                  byte          `mapstructure:"qos"`
}

// MqttConnector Connector的Mqtt版本实现。
// 订阅两类主题：<base>/readings/# 收传感器读数，<base>/hello 收设备登记
type MqttConnector struct {
	ctx    context.Context
	config *MqttConfig
	Client MQTTClient
	ingest Ingest
}

func init() {
	Register("mqtt", NewMqttConnector)
}

// helloMessage 设备上线自报文
type helloMessage struct {
	Role       string         `json:"role"`
	Name       string         `json:"name"`
	Capability string         `json:"capability"` // read | write | rw
	Meta       map[string]any `json:"meta"`
}

// readingMessage 传感器读数报文，role 必填，quantity 缺省按角色推断
type readingMessage struct {
	Role     string  `json:"role"`
	Quantity string  `json:"quantity"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Ts       string  `json:"ts"` // RFC3339，缺省用接收时刻
}

func NewMqttConnector(ctx context.Context, ingest Ingest) (Connector, error) {
	config := pkg.ConfigFromContext(ctx)
	if timeoutStr, ok := config.Connector.Para["maxreconnectinterval"].(string); ok {
		duration, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("解析重连间隔配置失败: %w", err)
		}
		config.Connector.Para["maxreconnectinterval"] = duration
	}
	var mqttConfig MqttConfig
	if err := mapstructure.Decode(config.Connector.Para, &mqttConfig); err != nil {
		return nil, fmt.Errorf("配置文件解析失败: %w", err)
	}
	if mqttConfig.BaseTopic == "" {
		room := config.Room.Name
		if room == "" {
			room = "room"
		}
		mqttConfig.BaseTopic = "growgate/" + room
	}
	if mqttConfig.MaxReconnectInterval == 0 {
		mqttConfig.MaxReconnectInterval = 5 * time.Minute
	}

	mc := &MqttConnector{ctx: ctx, config: &mqttConfig, ingest: ingest}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mqttConfig.Broker)
	opts.SetClientID(mqttConfig.ClientID)
	opts.SetUsername(mqttConfig.Username)
	opts.SetPassword(mqttConfig.Password)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(mqttConfig.MaxReconnectInterval)
	opts.OnConnect = mc.connectHandler
	opts.OnConnectionLost = mc.connectLostHandler

	mc.Client = mqtt.NewClient(opts)
	return mc, nil
}

func (m *MqttConnector) Start() error {
	logger := pkg.LoggerFromContext(m.ctx)
	metrics := pkg.GetPerformanceMetrics()

	if token := m.Client.Connect(); token.Wait() && token.Error() != nil {
		metrics.IncErrorCount()
		metrics.IncMsgErrors("mqtt_connect")
		pkg.ErrChanFromContext(m.ctx) <- fmt.Errorf("MQTT连接失败: %w", token.Error())
	}

	filters := map[string]byte{
		m.config.BaseTopic + "/readings/#": m.config.QoS,
		m.config.BaseTopic + "/hello":      m.config.QoS,
	}
	token := m.Client.SubscribeMultiple(filters, m.messagePubHandler)
	token.Wait()
	if err := token.Error(); err != nil {
		metrics.IncErrorCount()
		metrics.IncMsgErrors("mqtt_subscribe")
		pkg.ErrChanFromContext(m.ctx) <- fmt.Errorf("MQTT订阅失败: %w", err)
	}
	logger.Info("MQTT订阅成功，正在监听消息", zap.String("base", m.config.BaseTopic))
	return nil
}

func (m *MqttConnector) Close() error {
	logger := pkg.LoggerFromContext(m.ctx)
	if m.Client != nil && m.Client.IsConnected() {
		m.Client.Disconnect(250)
		logger.Info("MQTT连接已断开")
		return nil
	}
	pkg.GetPerformanceMetrics().IncErrorCount()
	return fmt.Errorf("MQTT客户端未连接")
}

func (m *MqttConnector) messagePubHandler(_ mqtt.Client, msg mqtt.Message) {
	logger := pkg.LoggerFromContext(m.ctx)
	metrics := pkg.GetPerformanceMetrics()
	timer := metrics.NewTimer("mqtt_message_process")
	metrics.IncMsgReceived("mqtt")

	var err error
	if strings.HasSuffix(msg.Topic(), "/hello") {
		err = m.handleHello(msg.Payload())
	} else {
		err = m.handleReading(msg.Payload())
	}
	if err != nil {
		metrics.IncErrorCount()
		metrics.IncMsgErrors("mqtt")
		logger.Error("消息处理失败", zap.Error(err), zap.String("topic", msg.Topic()))
		timer.Stop()
		return
	}
	metrics.IncMsgProcessed("mqtt")
	duration := timer.Stop()
	logger.Debug("消息处理完成",
		zap.Duration("duration", duration),
		zap.String("topic", msg.Topic()))
}

func (m *MqttConnector) handleReading(payload []byte) error {
	var msg readingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("解析读数报文失败: %w", err)
	}
	r := pkg.Reading{
		Role:     pkg.Role(msg.Role),
		Quantity: pkg.Quantity(msg.Quantity),
		Value:    msg.Value,
		Unit:     msg.Unit,
	}
	if msg.Ts != "" {
		ts, err := time.Parse(time.RFC3339, msg.Ts)
		if err != nil {
			return fmt.Errorf("解析读数时间戳失败: %w", err)
		}
		r.Ts = ts
	}
	return m.ingest.Reading(r)
}

func (m *MqttConnector) handleHello(payload []byte) error {
	var msg helloMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("解析设备登记报文失败: %w", err)
	}
	if msg.Role == "" {
		return fmt.Errorf("设备登记报文缺少角色")
	}
	var capability pkg.Capability
	switch msg.Capability {
	case "read":
		capability = pkg.CapReadable
	case "write":
		capability = pkg.CapWritable
	case "rw", "":
		capability = pkg.CapReadable | pkg.CapWritable
	default:
		return fmt.Errorf("未识别的设备能力: %q", msg.Capability)
	}
	m.ingest.Device(registry.Device{
		Role:       pkg.Role(msg.Role),
		Name:       msg.Name,
		Capability: capability,
		Meta:       msg.Meta,
	})
	return nil
}

// 连接成功回调
func (m *MqttConnector) connectHandler(client mqtt.Client) {
	_ = client
	pkg.GetPerformanceMetrics().IncMsgReceived("mqtt_connect")
	pkg.LoggerFromContext(m.ctx).Info("成功连接至MQTT broker")
}

// 连接丢失回调
func (m *MqttConnector) connectLostHandler(client mqtt.Client, err error) {
	_ = client
	metrics := pkg.GetPerformanceMetrics()
	metrics.IncErrorCount()
	metrics.IncMsgErrors("mqtt_connection_lost")
	pkg.LoggerFromContext(m.ctx).Error("Connect lost", zap.Error(err))
	// 这里Paho会自动重连，不需要手动重连
}
