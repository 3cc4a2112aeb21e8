package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/mitchellh/mapstructure"

	"growgate/internal/pkg"
)

func init() {
	RegisterChannel("mqtt", NewMqttChannel)
}

// MQTTNotifyInfo mqtt渠道的专属配置
type MQTTNotifyInfo struct {
	URL      string `mapstructure:"url"`
	ClientID string `mapstructure:"clientID"`
	UserName string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MqttChannel 把告警发布到 MQTT 主题，供外部看板或手机端订阅
type MqttChannel struct {
	client MQTT.Client
	info   MQTTNotifyInfo
}

func NewMqttChannel(ctx context.Context, config pkg.ChannelConfig) (Channel, error) {
	var info MQTTNotifyInfo
	// 将 map 转换为结构体
	if err := mapstructure.Decode(config.Para, &info); err != nil {
		return nil, fmt.Errorf("解析mqtt渠道配置失败: %w", err)
	}
	if info.Topic == "" {
		info.Topic = "growgate/alerts"
	}
	if info.Timeout == 0 {
		info.Timeout = 5 * time.Second
	}

	opts := MQTT.NewClientOptions().AddBroker(info.URL)
	opts.SetClientID(info.ClientID)
	opts.SetUsername(info.UserName)
	opts.SetPassword(info.Password)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(5 * time.Minute)
	opts.SetConnectRetryInterval(10 * time.Second)

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		// 自动重连兜底，连接失败不拦着渠道建起来
		pkg.LoggerFromContext(ctx).Error("连接到 MQTT Broker 失败: " + token.Error().Error())
	}
	return &MqttChannel{client: client, info: info}, nil
}

func (m *MqttChannel) Name() string { return "mqtt" }

func (m *MqttChannel) Send(a pkg.AlertEvent) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", m.info.Topic, a.Severity)
	token := m.client.Publish(topic, m.info.QoS, false, payload)
	if !token.WaitTimeout(m.info.Timeout) {
		return fmt.Errorf("%w: 发布 %s 超时", pkg.ErrNotificationDeliveryFailed, topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("%w: %v", pkg.ErrNotificationDeliveryFailed, token.Error())
	}
	return nil
}
