package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// startWatch 调用方必须持有 mu
func (c *Config) startWatch() {
	if !c.started {
		c.viper.OnConfigChange(c.handleEvent)
		c.viper.WatchConfig()
		c.started = true
	}
	c.watching = true
}

// handleEvent viper 重新读取文件后回调
func (c *Config) handleEvent(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	c.mu.Lock()
	if !c.watching {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	if c.debounce > 0 && now.Sub(c.lastEvent) < c.debounce {
		c.mu.Unlock()
		return
	}
	c.lastEvent = now
	callbacks := append([]func(*Config){}, c.onChange...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		c.safeCall(fn)
	}
}

func (c *Config) safeCall(fn func(*Config)) {
	defer func() {
		if r := recover(); r != nil {
			c.reportError(fmt.Errorf("config: change callback panic: %v", r))
		}
	}()
	fn(c)
}

// OnChange 添加配置变更回调
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// StartWatch 开始监控配置文件变更，已在监控时不重复启动
// viper 不提供停止底层 watcher 的方法，StopWatch 之后再次启动只恢复回调
func (c *Config) StartWatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.viper.ConfigFileUsed() == "" {
		return ErrConfigNotFound.WithMessage("config: nothing to watch")
	}
	if c.watching {
		return nil
	}
	c.startWatch()
	return nil
}

// StopWatch 停止触发变更回调
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// Watching 是否正在监控
func (c *Config) Watching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}

func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
		return
	}
	fmt.Fprintf(os.Stderr, "[config] %v\n", err)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
