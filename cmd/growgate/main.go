package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"growgate/internal"
	_ "growgate/internal/connector"
	"growgate/internal/pkg"
	_ "growgate/internal/sink"
)

// syncLog 安全地同步日志，忽略与标准输出相关的错误
func syncLog(log *zap.Logger) {
	// Windows平台上，同步标准输出时会出现"The handle is invalid"错误
	// 这是zap的已知问题，我们可以安全地忽略它
	err := log.Sync()
	if err != nil && !strings.Contains(err.Error(), "The handle is invalid") {
		log.Error("程序退出时同步日志失败", zap.Error(err))
	}
}

func main() {

	// 1. 初始化common yaml
	config, err := pkg.InitCommon("yaml")
	if err != nil {
		fmt.Printf("[main] 加载配置失败: %s", err)
		return
	}

	// 2. 初始化log
	log := pkg.NewLogger(&config.Log)

	log.Info("程序启动", zap.String("version", config.Version))
	log.Info("配置信息", zap.Any("common", config))
	log.Info("==== 初始化流程开始 ====")

	// 3. 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 10) // 全局错误通道，各环节只写不读
	ctx = pkg.WithErrChan(ctx, errChan)
	ctx = pkg.WithConfig(ctx, config)
	ctx = pkg.WithLogger(ctx, log)

	// 4. 启动控制链
	if err = internal.StartPipeline(ctx); err != nil {
		log.Error("启动控制链失败", zap.Error(err))
		cancel()
		syncLog(log)
		os.Exit(1)
	}
	printStartupLogo()

	// 5. 主线程监听终止信号
	si := make(chan os.Signal, 1)
	signal.Notify(si, os.Interrupt, syscall.SIGTERM)
	for {
		select {
		case <-si:
			log.Info("收到退出信号，正在停止控制链")
			cancel()                    // 取消上下文
			time.Sleep(1 * time.Second) // 给其他协程时间处理取消
			syncLog(log)
			os.Exit(0)
		case bad := <-errChan:
			log.Error("Error occurred", zap.Error(bad))
			cancel()
			// 等待其他可能的错误
			go func() {
				for err := range errChan {
					log.Error("Error occurred before shutdown", zap.Error(err))
				}
			}()
			time.Sleep(1 * time.Second) // 确保日志输出完整
			syncLog(log)
			os.Exit(1)
		}
	}
}

func printStartupLogo() {
	logo := `
		 ________  ________  ________  ___       __   ________  ________  _________  _______
		|\   ____\|\   __  \|\   __  \|\  \     |\  \|\   ____\|\   __  \|\___   ___\\  ___ \
		\ \  \___|\ \  \|\  \ \  \|\  \ \  \    \ \  \ \  \___|\ \  \|\  \|___ \  \_\ \   __/|
		 \ \  \  __\ \   _  _\ \  \\\  \ \  \  __\ \  \ \  \  __\ \   __  \   \ \  \ \ \  \_|/__
		  \ \  \|\  \ \  \\  \\ \  \\\  \ \  \|\__\_\  \ \  \|\  \ \  \ \  \   \ \  \ \ \  \_|\ \
		   \ \_______\ \__\\ _\\ \_______\ \____________\ \_______\ \__\ \__\   \ \__\ \ \_______\
			\|_______|\|__|\|__|\|_______|\|____________|\|_______|\|__|\|__|    \|__|  \|_______|

`
	fmt.Print(logo)
}
