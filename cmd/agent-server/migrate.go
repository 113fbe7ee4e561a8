package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hiydavid/dbx-agent-on-app/config"
	"github.com/hiydavid/dbx-agent-on-app/internal/migration"
)

// =============================================================================
// 🗄️ 追踪存储迁移命令
// =============================================================================

// migrateFlags migrate 子命令的通用参数
type migrateFlags struct {
	configPath string
	dbType     string
	dbURL      string
}

// parseMigrateArgs 解析参数，flag 可以出现在位置参数前后
func parseMigrateArgs(args []string) (migrateFlags, []string, error) {
	var f migrateFlags
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.dbType, "db-type", "", "Database type: postgres, mysql, sqlite")
	fs.StringVar(&f.dbURL, "db-url", "", "Database connection URL")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return f, nil, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	if (f.dbType == "") != (f.dbURL == "") {
		return f, nil, fmt.Errorf("--db-type and --db-url must be used together")
	}
	return f, positional, nil
}

// newMigrator 优先使用 --db-type/--db-url，否则读取配置中的数据库
func (f migrateFlags) newMigrator() (*migration.DefaultMigrator, error) {
	if f.dbURL != "" {
		return migration.NewMigratorFromURL(f.dbType, f.dbURL)
	}

	loader := config.NewLoader()
	if f.configPath != "" {
		loader = loader.WithConfigPath(f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver == "" {
		return nil, fmt.Errorf("database.driver is not configured")
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	if subcommand == "help" || subcommand == "-h" || subcommand == "--help" {
		printMigrateUsage()
		return
	}

	flags, positional, err := parseMigrateArgs(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		os.Exit(2)
	}

	m, err := flags.newMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = m.Close() }()

	// Ctrl-C 在步骤之间中断迁移
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migration.NewCLI(m).Run(ctx, subcommand, positional); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", subcommand, err)
		_ = m.Close()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Trace Store Migration Commands

Usage:
  agent-server migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations
  steps <n>   Apply n migrations (negative rolls back, pass after --)
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agent-server migrate up --config /etc/agent-server/config.yaml
  agent-server migrate status
  agent-server migrate goto 1
  agent-server migrate steps -- -1
  agent-server migrate up --db-type sqlite --db-url "file:traces.db?_pragma=foreign_keys(1)"`)
}
