// -----------------------------------------------------------------------
// WebSocket Handler - real-time job progress delivery over /ws
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/argus/internal/common"
	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
	"github.com/ternarybob/argus/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
)

// WebSocketHandler bridges internal engine events onto per-job WebSocket
// subscriptions. Delivery is best-effort and stateless: messages are not
// persisted, and clients recover authoritative state from the pull channel.
type WebSocketHandler struct {
	logger  arbor.ILogger
	manager *ws.Manager
	storage interfaces.JobStorage

	pingInterval time.Duration
	pongTimeout  time.Duration

	// progressThrottler rate-limits broadcast of progress messages. The
	// final value (100) always bypasses the limiter so completion is never
	// throttled away.
	progressThrottler *rate.Limiter

	// serverInstanceID is generated on startup; clients compare it across
	// reconnects to detect a server restart and re-pull status.
	serverInstanceID string
}

func NewWebSocketHandler(
	manager *ws.Manager,
	storage interfaces.JobStorage,
	eventService interfaces.EventService,
	logger arbor.ILogger,
	config *common.WebSocketConfig,
) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		manager:          manager,
		storage:          storage,
		pingInterval:     defaultPingInterval,
		pongTimeout:      defaultPongTimeout,
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	if config != nil {
		if config.PingInterval != "" {
			if d, err := time.ParseDuration(config.PingInterval); err == nil {
				h.pingInterval = d
			}
		}
		if config.PongTimeout != "" {
			if d, err := time.ParseDuration(config.PongTimeout); err == nil {
				h.pongTimeout = d
			}
		}

		if intervalStr, ok := config.ThrottleIntervals["progress"]; ok {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				h.progressThrottler = rate.NewLimiter(rate.Every(duration), 1)
				logger.Debug().
					Str("message_type", "progress").
					Str("interval", intervalStr).
					Msg("Throttler initialized for progress messages")
			} else {
				logger.Warn().
					Err(err).
					Str("interval", intervalStr).
					Msg("Failed to parse progress throttle interval - throttler disabled")
			}
		}
	}

	if eventService != nil {
		eventService.Subscribe(interfaces.EventJobProgress, h.onJobProgress)
		eventService.Subscribe(interfaces.EventJobStatus, h.onJobStatus)
	}

	return h
}

// ServerInstanceID returns the instance identifier sent in metadata messages.
func (h *WebSocketHandler) ServerInstanceID() string {
	return h.serverInstanceID
}

// onJobProgress converts an internal progress event into a "progress"
// protocol message for the job's subscribers.
func (h *WebSocketHandler) onJobProgress(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.ProgressPayload)
	if !ok {
		return nil
	}

	if h.progressThrottler != nil && payload.Progress < 100 && !h.progressThrottler.Allow() {
		return nil
	}

	h.manager.Broadcast(payload.JobID, models.NewMessage(models.MessageTypeProgress, payload))
	return nil
}

// onJobStatus converts a status transition into a "plugin_status" message.
// Terminal failures additionally emit an "error" message so subscribers that
// only watch the error stream still learn the job died.
func (h *WebSocketHandler) onJobStatus(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.StatusPayload)
	if !ok {
		return nil
	}

	h.manager.Broadcast(payload.JobID, models.NewMessage(models.MessageTypePluginStatus, payload))

	if payload.Status == models.JobStatusFailed {
		h.manager.Broadcast(payload.JobID, models.NewMessage(models.MessageTypeError, payload))
	}
	return nil
}

// HandleWebSocket handles GET /ws?job_id={id}
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id query parameter is required", http.StatusBadRequest)
		return
	}

	job, err := h.storage.GetJob(r.Context(), jobID)
	if err != nil {
		var notFound *models.NotFoundError
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	sub := h.manager.Subscribe(jobID, conn)
	defer h.manager.Unsubscribe(sub)

	// Metadata is the first message on every fresh subscription: the client
	// compares server_instance_id with the previous connection's to detect a
	// restart, and gets a status snapshot to bridge the subscription gap.
	snapshot := job.Snapshot()
	sub.Send(models.NewMessage(models.MessageTypeMetadata, models.MetadataPayload{
		JobID:            jobID,
		ServerInstanceID: h.serverInstanceID,
		Status:           snapshot.Status,
		Progress:         snapshot.Progress,
	}))

	h.logger.Debug().
		Str("job_id", jobID).
		Int("subscribers", h.manager.SubscriberCount(jobID)).
		Msg("WebSocket client connected")

	// Server-side heartbeat. Half-open connections miss the pong deadline
	// and fail the next read.
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				sub.Send(models.NewMessage(models.MessageTypePing, nil))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(h.pongTimeout))

	for {
		var msg models.ProtocolMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Str("job_id", jobID).Msg("WebSocket read error")
			}
			break
		}

		// Any client traffic proves liveness.
		conn.SetReadDeadline(time.Now().Add(h.pongTimeout))

		if msg.Type == models.MessageTypePing {
			sub.Send(models.NewMessage(models.MessageTypePong, nil))
		}
	}

	h.logger.Debug().Str("job_id", jobID).Msg("WebSocket client disconnected")
}
