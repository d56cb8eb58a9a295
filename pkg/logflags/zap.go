package logflags

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(enabled bool, component string) Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:      "timestamp",
		LevelKey:     "level",
		NameKey:      "component",
		MessageKey:   "message",
		CallerKey:    "caller",
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
		EncodeName:   zapcore.FullNameEncoder,
	}

	level := zapcore.ErrorLevel
	if enabled {
		level = zapcore.DebugLevel
	}

	mu.Lock()
	out := logOut
	mu.Unlock()

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(zapcore.AddSync(out)),
		level,
	)

	return zap.New(core, zap.AddCaller()).Named(component).Sugar()
}

// ProbeLogger logs one-shot fork probes and sink handling.
func ProbeLogger() Logger {
	return newLogger(probe, "probe")
}

// WorkerLogger logs the persistent worker protocol.
func WorkerLogger() Logger {
	return newLogger(worker, "worker")
}

// ScanLogger logs boundary scans.
func ScanLogger() Logger {
	return newLogger(scan, "scan")
}

func HTTPLogger() Logger {
	return newLogger(http, "http")
}

func GRPCLogger() Logger {
	return newLogger(grpc, "grpc")
}
