// =============================================================================
// agent-server 主入口
// =============================================================================
// 托管一个 Agent 回调的 HTTP 服务：/invocations、健康检查、Prometheus 指标
//
// 使用方法:
//
//	agent-server serve                          # 启动服务
//	agent-server serve --config config.yaml     # 指定配置文件
//	agent-server serve --agent-type agent/v1/chat --port 8000
//	agent-server version                        # 显示版本信息
//	agent-server health                         # 健康检查
//	agent-server migrate up                     # 运行数据库迁移
//	agent-server migrate status                 # 查看迁移状态
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hiydavid/dbx-agent-on-app/agenttype"
	"github.com/hiydavid/dbx-agent-on-app/config"
	"github.com/hiydavid/dbx-agent-on-app/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

// serveFlags 命令行参数，非零值覆盖配置文件和环境变量
type serveFlags struct {
	configPath string
	port       int
	workers    int
	agentType  string
}

func parseServeFlags(args []string) (serveFlags, error) {
	var f serveFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.IntVar(&f.port, "port", 0, "HTTP port (overrides server.http_port)")
	fs.IntVar(&f.workers, "workers", 0, "Maximum concurrent invocations (overrides server.workers)")
	fs.StringVar(&f.agentType, "agent-type", "", "Agent type to validate requests against; registers the echo agent")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.port < 0 || f.port > 65535 {
		return f, fmt.Errorf("invalid --port %d", f.port)
	}
	if f.workers < 0 {
		return f, fmt.Errorf("invalid --workers %d", f.workers)
	}
	if f.agentType != "" {
		if _, err := agenttype.Parse(f.agentType); err != nil {
			return f, err
		}
	}
	return f, nil
}

// apply 将命令行参数写入配置
func (f serveFlags) apply(cfg *config.Config) {
	if f.port > 0 {
		cfg.Server.HTTPPort = f.port
	}
	if f.workers > 0 {
		cfg.Server.Workers = f.workers
	}
	if f.agentType != "" {
		cfg.Agent.Type = f.agentType
		cfg.Agent.Echo = true
	}
}

func runServe(args []string) {
	flags, err := parseServeFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		os.Exit(2)
	}

	// 加载配置
	loader := config.NewLoader()
	if flags.configPath != "" {
		loader = loader.WithConfigPath(flags.configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	flags.apply(cfg)

	// 验证配置
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting agent server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("agent_type", cfg.AgentType().String()),
	)

	srv := NewServer(cfg, loader, logger, level)
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
		srv.Shutdown()
		os.Exit(1)
	}

	// 等待关闭信号
	if err := srv.WaitForShutdown(context.Background()); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("Agent server stopped")
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	timeout := fs.Duration("timeout", 5*time.Second, "Request timeout")
	_ = fs.Parse(args)

	if err := checkHealth(tlsutil.SecureHTTPClient(*timeout), *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func checkHealth(client *http.Client, addr string) error {
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("agent-server %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`agent-server - host an agent behind /invocations

Usage:
  agent-server <command> [options]

Commands:
  serve     Start the agent server
  migrate   Trace store migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>       Path to configuration file (YAML)
  --port <n>            HTTP port (default 8000)
  --workers <n>         Maximum concurrent invocations (0 = unlimited)
  --agent-type <type>   agent/v1/responses, agent/v1/chat or agent/v2/chat;
                        also registers the built-in echo agent

Options for 'health':
  --addr <url>          Server address (default http://localhost:8000)
  --timeout <duration>  Request timeout (default 5s)

Examples:
  agent-server serve
  agent-server serve --config /etc/agent-server/config.yaml
  agent-server serve --agent-type agent/v1/responses --workers 16
  agent-server migrate up --config config.yaml
  agent-server health --addr http://localhost:8000
  agent-server version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// parseLevel 解析日志级别，未知值回退到 info
func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// initLogger 构建 logger，返回的 AtomicLevel 用于热更新日志级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
		level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return logger, level
}
