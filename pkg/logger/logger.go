package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// currentFile 当前文件 writer（切换周期时关闭）
	currentFile *lumberjack.Logger
	// savedConfig 保存的日志配置（用于按周期切换）
	savedConfig Config
	// currentPeriod 当前日志文件对应的周期时间戳
	currentPeriod int64
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level       string // 日志级别: debug, info, warn, error
	OutputFile  string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize     int    // 日志文件最大大小（MB）
	MaxBackups  int    // 保留的旧日志文件数量
	MaxAge      int    // 保留旧日志文件的天数
	Compress    bool   // 是否压缩旧日志文件
	LogByCycle  bool   // 是否按市场周期命名日志文件
	CyclePrefix string // 周期日志文件名前缀，例如 updown-15m
	Quiet       bool   // 不输出到控制台（TUI 模式）
}

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     true,
	}
}

// cycleLogFileName 周期日志文件名：{dir}/{prefix}-{timestamp}{ext}
func cycleLogFileName(basePath, prefix string, period int64) string {
	dir := filepath.Dir(basePath)
	ext := filepath.Ext(basePath)
	if ext == "" {
		ext = ".log"
	}
	if prefix == "" {
		base := filepath.Base(basePath)
		prefix = base[:len(base)-len(filepath.Ext(base))]
	}
	name := fmt.Sprintf("%s-%d%s", prefix, period, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	savedConfig = config
	path := config.OutputFile
	if path != "" && config.LogByCycle && currentPeriod > 0 {
		path = cycleLogFileName(config.OutputFile, config.CyclePrefix, currentPeriod)
	}
	return install(path)
}

// install 重建输出（调用方持有 logMu）
func install(path string) error {
	config := savedConfig
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	var writers []io.Writer
	if !config.Quiet {
		writers = append(writers, os.Stdout)
	}

	var fileWriter *lumberjack.Logger
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		fileWriter = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, fileWriter)
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}
	logger.SetOutput(out)

	// 同时设置全局 logrus，各包用 logrus.WithField() 创建的 entry 也写入同一输出
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	if currentFile != nil {
		_ = currentFile.Close()
	}
	currentFile = fileWriter
	currentLogFile = path
	Logger = logger
	return nil
}

// SetMarketTimestamp 市场周期切换时调用；启用按周期命名时切换到新周期的日志文件
func SetMarketTimestamp(timestamp int64) {
	logMu.Lock()
	defer logMu.Unlock()

	if timestamp <= 0 || timestamp == currentPeriod {
		return
	}
	currentPeriod = timestamp
	if Logger == nil || !savedConfig.LogByCycle || savedConfig.OutputFile == "" {
		return
	}

	next := cycleLogFileName(savedConfig.OutputFile, savedConfig.CyclePrefix, timestamp)
	if next == currentLogFile {
		return
	}
	old := currentLogFile
	if err := install(next); err != nil {
		fmt.Fprintf(os.Stderr, "[日志切换] 失败 %s -> %s: %v\n", old, next, err)
		return
	}
	Logger.Infof("日志文件已切换到新周期: %s", next)
}

// CurrentLogFile 当前日志文件路径
func CurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/updown.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
	})
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.WithFields(fields)
}

// Since 便捷的耗时字段
func Since(start time.Time) logrus.Fields {
	return logrus.Fields{"elapsed_ms": time.Since(start).Milliseconds()}
}
