// README: Websocket stream of a job's state changes and its assigned driver's location.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dispatch/internal/modules/job"
	"dispatch/internal/modules/tracking"
	"dispatch/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	frameJob      = "job"
	frameLocation = "location"
)

type trackingFrame struct {
	Type     string             `json:"type"`
	Job      *job.Job           `json:"job,omitempty"`
	Location *types.GeoLocation `json:"location,omitempty"`
}

// wsSession serialises writes; gorilla connections allow one concurrent writer.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(f trackingFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

type TrackingHandler struct {
	jobs     *job.Service
	tracking *tracking.Service
	streams  context.Context // cancelled on server shutdown; ends hijacked streams
	logger   *slog.Logger
}

func NewTrackingHandler(jobSvc *job.Service, trackingSvc *tracking.Service, streams context.Context, logger *slog.Logger) *TrackingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if streams == nil {
		streams = context.Background()
	}
	return &TrackingHandler{jobs: jobSvc, tracking: trackingSvc, streams: streams, logger: logger}
}

// Stream sends the current job, then every update. Once the job has a driver
// the driver's fixes are streamed too, following reassignment.
func (h *TrackingHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid job id")
		return
	}
	jobID := types.ID(id)
	if _, err := h.jobs.Get(c.Request.Context(), jobID); err != nil {
		writeDispatchError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stopOnShutdown := context.AfterFunc(h.streams, cancel)
	defer stopOnShutdown()
	sess := &wsSession{conn: conn}
	logger := h.logger.With("job_id", jobID)

	var (
		mu        sync.Mutex
		locSub    *tracking.Subscription
		following types.ID
	)
	follow := func(driverID *types.ID) {
		mu.Lock()
		defer mu.Unlock()
		if driverID == nil || *driverID == following || ctx.Err() != nil {
			return
		}
		if locSub != nil {
			locSub.Unsubscribe()
			locSub = nil
		}
		sub, err := h.tracking.SubscribeToDriverLocation(ctx, *driverID, func(loc types.GeoLocation) {
			if err := sess.send(trackingFrame{Type: frameLocation, Location: &loc}); err != nil {
				cancel()
			}
		})
		if err != nil {
			logger.Warn("subscribe driver location failed", "driver_id", *driverID, "error", err)
			return
		}
		locSub = sub
		following = *driverID
	}
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		if locSub != nil {
			locSub.Unsubscribe()
		}
	}()

	// Updates are held until the snapshot frame is out so the client never
	// sees the snapshot after a newer state.
	snapshotSent := make(chan struct{})
	jobSub, err := h.tracking.SubscribeToJobUpdates(ctx, jobID, func(j job.Job) {
		select {
		case <-snapshotSent:
		case <-ctx.Done():
			return
		}
		if err := sess.send(trackingFrame{Type: frameJob, Job: &j}); err != nil {
			cancel()
			return
		}
		follow(j.DriverID)
	})
	if err != nil {
		logger.Warn("subscribe job updates failed", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(writeWait))
		return
	}
	defer jobSub.Unsubscribe()

	// Read the snapshot only once subscribed: a claim committed before this
	// point is in the snapshot, one committed after arrives as an update.
	current, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		logger.Warn("read job snapshot failed", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "job unavailable"),
			time.Now().Add(writeWait))
		return
	}
	if err := sess.send(trackingFrame{Type: frameJob, Job: current}); err != nil {
		return
	}
	close(snapshotSent)
	follow(current.DriverID)

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and cancels the stream once the peer goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
