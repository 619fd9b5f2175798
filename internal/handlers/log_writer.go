package handlers

import (
	"strings"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/arbor/writers"

	"github.com/ternarybob/argus/internal/common"
	"github.com/ternarybob/argus/internal/models"
	"github.com/ternarybob/argus/internal/ws"
)

const (
	// Default buffer size for the WebSocket log queue
	defaultLogQueueSize = 1000
)

// LogRelayWriter is an arbor writer that relays server log lines to real-time
// subscribers as "warning" and "error" protocol messages. Lines below the
// configured minimum level are dropped, as are lines generated by the relay
// path itself.
type LogRelayWriter struct {
	manager         *ws.Manager
	writer          writers.IChannelWriter
	minLevel        levels.LogLevel
	excludePatterns []string
}

// NewLogRelayWriter creates a log relay using arbor's ChannelWriter pattern.
func NewLogRelayWriter(manager *ws.Manager, config arbormodels.WriterConfiguration, wsConfig *common.WebSocketConfig) (*LogRelayWriter, error) {
	minLevel := levels.WarnLevel
	if wsConfig != nil && wsConfig.MinLogLevel != "" {
		minLevel = parseLogLevel(wsConfig.MinLogLevel)
	}

	w := &LogRelayWriter{
		manager:  manager,
		minLevel: minLevel,
		excludePatterns: []string{
			"WebSocket client connected",
			"WebSocket client disconnected",
			"HTTP request",
			"HTTP response",
			"Subscriber write failed",
		},
	}

	processor := func(entry arbormodels.LogEvent) error {
		arborLevel := plogToArborLevel(entry.Level)

		if arborLevel < w.minLevel {
			return nil
		}

		for _, pattern := range w.excludePatterns {
			if strings.Contains(entry.Message, pattern) {
				return nil
			}
		}

		msgType := models.MessageTypeWarning
		if arborLevel >= levels.ErrorLevel {
			msgType = models.MessageTypeError
		}

		w.manager.BroadcastAll(models.NewMessage(msgType, models.LogPayload{
			Level:     mapLevel(arborLevel),
			Message:   entry.Message,
			Timestamp: entry.Timestamp.Format("15:04:05"),
		}))
		return nil
	}

	cw, err := writers.NewChannelWriter(config, defaultLogQueueSize, processor)
	if err != nil {
		return nil, err
	}
	cw.Start()

	w.writer = cw
	return w, nil
}

// Write implements the IWriter interface - delegates to the channel writer
func (w *LogRelayWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

// WithLevel updates the minimum log level and returns self
func (w *LogRelayWriter) WithLevel(level plog.Level) writers.IWriter {
	w.minLevel = plogToArborLevel(level)
	return w
}

// GetFilePath returns empty string (not file-based)
func (w *LogRelayWriter) GetFilePath() string {
	return ""
}

// Close performs graceful shutdown with buffer draining
func (w *LogRelayWriter) Close() error {
	return w.writer.Close()
}

// plogToArborLevel converts phuslu/log.Level to arbor levels.LogLevel
func plogToArborLevel(level plog.Level) levels.LogLevel {
	switch level {
	case plog.ErrorLevel:
		return levels.ErrorLevel
	case plog.WarnLevel:
		return levels.WarnLevel
	case plog.InfoLevel:
		return levels.InfoLevel
	case plog.DebugLevel:
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

// parseLogLevel converts string log level to arbor levels.LogLevel
func parseLogLevel(level string) levels.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return levels.ErrorLevel
	case "warn", "warning":
		return levels.WarnLevel
	case "info":
		return levels.InfoLevel
	case "debug":
		return levels.DebugLevel
	default:
		return levels.InfoLevel
	}
}

func mapLevel(level levels.LogLevel) string {
	switch level {
	case levels.ErrorLevel:
		return "error"
	case levels.WarnLevel:
		return "warn"
	case levels.InfoLevel:
		return "info"
	case levels.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
