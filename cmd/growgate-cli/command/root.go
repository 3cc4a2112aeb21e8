package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// serverAddr 控制器运维接口地址，所有子命令共用
var serverAddr string

var httpClient = &http.Client{Timeout: 10 * time.Second}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "growgate-cli",
		Short: "GrowGate CLI for inspecting and operating the controller",
		Long:  `GrowGate CLI talks to the controller's HTTP API: room state, profiles, mode and emergency stop.`,
	}
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8081", "控制器运维接口地址")

	// 添加子命令
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewDevicesCommand())
	rootCmd.AddCommand(NewAlertsCommand())
	rootCmd.AddCommand(NewProfileCommand())
	rootCmd.AddCommand(NewStageCommand())
	rootCmd.AddCommand(NewOverrideCommand())
	rootCmd.AddCommand(NewDryCommand())
	rootCmd.AddCommand(NewModeCommand())
	rootCmd.AddCommand(NewEstopCommand())
	rootCmd.AddCommand(NewAckCommand())

	return rootCmd
}

// getJSON 请求并美化输出响应体
func getJSON(path string) error {
	resp, err := httpClient.Get(serverAddr + path)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()
	return printBody(resp)
}

// postJSON 发送 JSON 请求体并美化输出响应
func postJSON(path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("编码请求失败: %w", err)
	}
	resp, err := httpClient.Post(serverAddr+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()
	return printBody(resp)
}

func printBody(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("服务端返回 %s", resp.Status)
	}
	return nil
}

// NewStatusCommand 查看房间状态
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show room snapshot, mode and photoperiod state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/api/v1/state")
		},
	}
}

// NewDevicesCommand 查看已登记设备
func NewDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/api/v1/devices")
		},
	}
}

// NewAlertsCommand 查看最近告警
func NewAlertsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Show recent alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/api/v1/alerts")
		},
	}
}

// NewProfileCommand 查看当前档案
func NewProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the active grow profile and stage history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/api/v1/profile")
		},
	}
}

// NewStageCommand 推进生长阶段
func NewStageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <stage>",
		Short: "Advance the grow stage (forward only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/profile/stage", map[string]string{"stage": args[0]})
		},
	}
}

// NewOverrideCommand 应用档案覆盖，参数为 JSON 覆盖体
func NewOverrideCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "override <json>",
		Short: "Apply a field-level profile override",
		Long:  `Apply a field-level profile override, e.g. '{"temperature":{"min":21,"max":27}}'.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var o map[string]any
			if err := json.Unmarshal([]byte(args[0]), &o); err != nil {
				return fmt.Errorf("覆盖体不是合法 JSON: %w", err)
			}
			return postJSON("/api/v1/profile/override", o)
		},
	}
}

// NewDryCommand 启停收获后干燥
func NewDryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dry <ElClassico|5DayDry|DewBased|stop>",
		Short: "Start or stop a post-harvest drying plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "stop" {
				return postJSON("/api/v1/profile/dry/stop", map[string]string{})
			}
			return postJSON("/api/v1/profile/dry", map[string]string{"mode": args[0]})
		},
	}
}

// NewModeCommand 切换运行模式
func NewModeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mode <auto|manual>",
		Short: "Switch the room between auto and manual mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/mode", map[string]string{"mode": args[0]})
		},
	}
}

// NewEstopCommand 手工触发紧急停机
func NewEstopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "estop [reason]",
		Short: "Trigger an emergency stop",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := strings.Join(args, " ")
			return postJSON("/api/v1/estop", map[string]string{"reason": reason})
		},
	}
}

// NewAckCommand 操作员确认，退出停机
func NewAckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <operator>",
		Short: "Acknowledge the emergency stop and resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/estop/ack", map[string]string{"operator": args[0]})
		},
	}
}
