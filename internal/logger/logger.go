package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wellness-alert/internal/models"
)

var (
	mu           sync.RWMutex
	activeLogger *zap.SugaredLogger
	atomicLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logFile      *os.File
)

// InitLogger 初始化日志系统。
func InitLogger(config *models.Config) error {
	if config == nil {
		return fmt.Errorf("日志配置为空")
	}
	SetLogLevel(config.LogLevel)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel),
	}
	file, err := openLogFile(config.LogFile)
	if err != nil {
		return err
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), atomicLevel))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2))

	mu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	activeLogger = base.Sugar()
	mu.Unlock()
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return file, nil
}

// Close 刷新缓冲并关闭日志文件。
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if activeLogger != nil {
		_ = activeLogger.Sync()
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// Info 记录信息日志。
func Info(format string, v ...interface{}) {
	logWithLevel(zapcore.InfoLevel, format, v...)
}

// Error 记录错误日志。
func Error(format string, v ...interface{}) {
	logWithLevel(zapcore.ErrorLevel, format, v...)
}

// Warn 记录警告日志。
func Warn(format string, v ...interface{}) {
	logWithLevel(zapcore.WarnLevel, format, v...)
}

// Debug 记录调试日志。
func Debug(format string, v ...interface{}) {
	logWithLevel(zapcore.DebugLevel, format, v...)
}

// SetLogLevel 设置日志级别。
func SetLogLevel(level string) {
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		parsed = zapcore.InfoLevel
	}
	atomicLevel.SetLevel(parsed)
}

// GetLogger 获取底层 zap logger 未初始化时返回 nop。
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if activeLogger == nil {
		return zap.NewNop()
	}
	return activeLogger.Desugar()
}

func logWithLevel(level zapcore.Level, format string, v ...interface{}) {
	mu.RLock()
	l := activeLogger
	mu.RUnlock()
	if l == nil {
		// 未初始化时退回到开发配置 便于测试直接输出
		l = fallbackLogger()
	}
	switch level {
	case zapcore.DebugLevel:
		l.Debugf(format, v...)
	case zapcore.WarnLevel:
		l.Warnf(format, v...)
	case zapcore.ErrorLevel:
		l.Errorf(format, v...)
	default:
		l.Infof(format, v...)
	}
}

var (
	fallbackOnce sync.Once
	fallback     *zap.SugaredLogger
)

func fallbackLogger() *zap.SugaredLogger {
	fallbackOnce.Do(func() {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = atomicLevel
		base, err := cfg.Build(zap.AddCallerSkip(2))
		if err != nil {
			base = zap.NewNop()
		}
		fallback = base.Sugar()
	})
	return fallback
}
