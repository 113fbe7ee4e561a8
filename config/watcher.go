// 配置文件变更监听。
//
// 以轮询方式检测配置文件修改，防抖后重新加载并回调。
// 目前仅 log.level 支持热更新，其余字段变更需要重启。
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadFunc 在配置重新加载并通过校验后调用
type ReloadFunc func(old, updated *Config)

// Watcher 监听配置文件并在变更时重新加载
type Watcher struct {
	loader   *Loader
	interval time.Duration
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	current   *Config
	lastMod   time.Time
	callbacks []ReloadFunc
	running   bool
}

// WatcherOption 配置 Watcher
type WatcherOption func(*Watcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithDebounceDelay 设置防抖延迟
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher 创建监听器，current 为当前生效的配置
func NewWatcher(loader *Loader, current *Config, opts ...WatcherOption) (*Watcher, error) {
	if loader.configPath == "" {
		return nil, errors.New("config watcher requires a config file path")
	}
	w := &Watcher{
		loader:   loader,
		interval: time.Second,
		debounce: 100 * time.Millisecond,
		logger:   zap.NewNop(),
		current:  current,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if info, err := os.Stat(loader.configPath); err == nil {
		w.lastMod = info.ModTime()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", loader.configPath, err)
	}
	return w, nil
}

// OnReload 注册重新加载回调
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current 返回当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run 阻塞轮询直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("config watcher started",
		zap.String("path", w.loader.configPath),
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.changed() {
				// 等待写入完成
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(w.debounce):
				}
				w.reload()
			}
		}
	}
}

func (w *Watcher) changed() bool {
	info, err := os.Stat(w.loader.configPath)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !info.ModTime().After(w.lastMod) {
		return false
	}
	w.lastMod = info.ModTime()
	return true
}

// reload 重新加载，失败时保留旧配置
func (w *Watcher) reload() {
	updated, err := w.loader.Load()
	if err == nil {
		err = updated.Validate()
	}
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous config", zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.loader.configPath))
	for _, fn := range callbacks {
		fn(old, updated)
	}
}
