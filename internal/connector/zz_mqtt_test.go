package connector

import (
	"errors"
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"growgate/internal/pkg"
	"growgate/internal/registry"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	args := m.Called()
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(filters, callback)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

// MockToken 用于模拟 MQTT Token
type MockToken struct {
	mock.Mock
}

func (t *MockToken) Wait() bool {
	args := t.Called()
	return args.Bool(0)
}

func (t *MockToken) WaitTimeout(timeout time.Duration) bool {
	args := t.Called(timeout)
	return args.Bool(0)
}

func (t *MockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *MockToken) Error() error {
	args := t.Called()
	return args.Error(0)
}

type MockMessage struct {
	TopicStr   string
	PayloadStr []byte
}

func (m *MockMessage) Ack()              {}
func (m *MockMessage) Duplicate() bool   { return false }
func (m *MockMessage) Qos() byte         { return 0 }
func (m *MockMessage) Retained() bool    { return false }
func (m *MockMessage) Topic() string     { return m.TopicStr }
func (m *MockMessage) MessageID() uint16 { return 0 }
func (m *MockMessage) Payload() []byte   { return m.PayloadStr }

var logger, _ = zap.NewDevelopment()

type captured struct {
	readings []pkg.Reading
	devices  []registry.Device
}

func captureIngest() (*captured, Ingest) {
	c := &captured{}
	return c, Ingest{
		Reading: func(r pkg.Reading) error { c.readings = append(c.readings, r); return nil },
		Device:  func(d registry.Device) { c.devices = append(c.devices, d) },
	}
}

func TestMqttConnector(t *testing.T) {
	Convey("给定一个合法的 ctx 和配置", t, func() {
		ctx := pkg.WithErrChan(pkg.WithLogger(context.Background(), logger), make(chan error, 5))
		mockClient := new(MockMQTTClient)
		mockToken := new(MockToken)
		got, ingest := captureIngest()

		mqttConfig := &MqttConfig{
			Broker:    "tcp://localhost:1883",
			ClientID:  "test-client",
			BaseTopic: "growgate/tent-1",
		}
		mqttConn := &MqttConnector{
			ctx:    ctx,
			config: mqttConfig,
			Client: mockClient,
			ingest: ingest,
		}

		Convey("当调用 Start 并连接成功时", func() {
			mockClient.On("Connect").Return(mockToken)
			mockToken.On("Wait").Return(true)
			mockToken.On("Error").Return(nil)
			mockClient.On("SubscribeMultiple", mock.Anything, mock.Anything).Return(mockToken)

			err := mqttConn.Start()
			So(err, ShouldBeNil)
			mockClient.AssertCalled(t, "Connect")
			mockClient.AssertCalled(t, "SubscribeMultiple", mock.Anything, mock.Anything)
		})

		Convey("当调用 Start 并连接失败时，错误走 ErrChan 不走返回值", func() {
			mockClient.On("Connect").Return(mockToken)
			mockToken.On("Wait").Return(true)
			mockToken.On("Error").Return(errors.New("连接失败"))
			mockClient.On("SubscribeMultiple", mock.Anything, mock.Anything).Return(mockToken)

			So(mqttConn.Start(), ShouldBeNil)
		})

		Convey("当调用 Close 并客户端已连接时", func() {
			mockClient.On("IsConnected").Return(true)
			mockClient.On("Disconnect", uint(250)).Return()

			So(mqttConn.Close(), ShouldBeNil)
			mockClient.AssertCalled(t, "Disconnect", uint(250))
		})

		Convey("当调用 Close 并客户端未连接时", func() {
			mockClient.On("IsConnected").Return(false)
			err := mqttConn.Close()
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "MQTT客户端未连接")
		})

		Convey("收到读数报文时转交聚合回调", func() {
			message := &MockMessage{
				TopicStr:   "growgate/tent-1/readings/sensor-temp",
				PayloadStr: []byte(`{"role":"sensor-temp","value":24.5,"unit":"C"}`),
			}
			mqttConn.messagePubHandler(nil, message)

			So(len(got.readings), ShouldEqual, 1)
			So(got.readings[0].Role, ShouldEqual, pkg.RoleSensorTemp)
			So(got.readings[0].Value, ShouldEqual, 24.5)
		})

		Convey("收到设备登记报文时转交登记回调", func() {
			message := &MockMessage{
				TopicStr:   "growgate/tent-1/hello",
				PayloadStr: []byte(`{"role":"humidifier","name":"加湿器-1","capability":"write"}`),
			}
			mqttConn.messagePubHandler(nil, message)

			So(len(got.devices), ShouldEqual, 1)
			So(got.devices[0].Role, ShouldEqual, pkg.RoleHumidifier)
			So(got.devices[0].Capability.Writable(), ShouldBeTrue)
			So(got.devices[0].Capability.Readable(), ShouldBeFalse)
		})

		Convey("非法报文不转交且不致命", func() {
			message := &MockMessage{
				TopicStr:   "growgate/tent-1/readings/sensor-temp",
				PayloadStr: []byte(`{not json`),
			}
			mqttConn.messagePubHandler(nil, message)
			So(len(got.readings), ShouldEqual, 0)
		})
	})
}

func TestNewMqttConnector(t *testing.T) {
	Convey("创建一个新的 MQTT 连接器", t, func() {
		ctx := pkg.WithLogger(context.Background(), logger)

		Convey("当配置正确时", func() {
			validConfig := pkg.Config{
				Connector: pkg.ConnectorConfig{
					Type: "mqtt",
					Para: map[string]interface{}{
						"broker":               "tcp://localhost:1883",
						"clientID":             "test-client",
						"maxreconnectinterval": "10s",
					},
				},
			}
			validConfig.Room.Name = "tent-1"
			ctx = pkg.WithConfig(ctx, &validConfig)
			_, ingest := captureIngest()

			conn, err := NewMqttConnector(ctx, ingest)
			So(err, ShouldBeNil)
			So(conn, ShouldNotBeNil)
			mqttConn := conn.(*MqttConnector)
			So(mqttConn.config.BaseTopic, ShouldEqual, "growgate/tent-1")
			So(mqttConn.config.MaxReconnectInterval, ShouldEqual, 10*time.Second)
		})

		Convey("当重连间隔配置非法时返回错误", func() {
			badConfig := pkg.Config{
				Connector: pkg.ConnectorConfig{
					Para: map[string]interface{}{
						"maxreconnectinterval": "not-a-duration",
					},
				},
			}
			ctx = pkg.WithConfig(ctx, &badConfig)
			_, ingest := captureIngest()
			_, err := NewMqttConnector(ctx, ingest)
			So(err, ShouldNotBeNil)
		})
	})
}
