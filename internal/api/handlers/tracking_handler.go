package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"campusrun/internal/api/middleware"
	"campusrun/internal/domain/entities"
	"campusrun/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

type TrackingHandler struct {
	tracking *services.TrackingService
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewTrackingHandler(tracking *services.TrackingService, log *slog.Logger) *TrackingHandler {
	return &TrackingHandler{
		tracking: tracking,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		log:      log,
	}
}

// DestinationRequest accepts coordinates, an address, or both.
type DestinationRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

type StartTrackingRequest struct {
	Destination *DestinationRequest `json:"destination"`
}

func (d *DestinationRequest) location() (*entities.Location, error) {
	if d.Lat == nil && d.Lng == nil {
		if d.Address == "" {
			return nil, entities.ErrInvalidLocation
		}
		loc := entities.AddressOnly(d.Address)
		return &loc, nil
	}
	if d.Lat == nil || d.Lng == nil {
		return nil, entities.ErrInvalidLocation
	}
	loc := entities.NewLocation(*d.Lat, *d.Lng).WithAddress(d.Address)
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return &loc, nil
}

// StartTracking handles POST /tasks/:id/tracking. The body is optional; the
// destination defaults to the task's drop-off.
func (h *TrackingHandler) StartTracking(c *gin.Context) {
	var req StartTrackingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var destination *entities.Location
	if req.Destination != nil {
		loc, err := req.Destination.location()
		if err != nil {
			respondError(c, err)
			return
		}
		destination = loc
	}

	handle, err := h.tracking.StartTracking(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), destination)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handle)
}

// StopTracking handles DELETE /tracking/:session_id
func (h *TrackingHandler) StopTracking(c *gin.Context) {
	if err := h.tracking.StopTracking(c.Request.Context(), c.Param("session_id"), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Snapshot handles GET /tasks/:id/tracking
func (h *TrackingHandler) Snapshot(c *gin.Context) {
	snap, err := h.tracking.Snapshot(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// RouteGeoJSON handles GET /tasks/:id/tracking/route.geojson. The collection
// holds the route line plus the current position and destination points.
func (h *TrackingHandler) RouteGeoJSON(c *gin.Context) {
	snap, err := h.tracking.Snapshot(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if snap.Route == nil || len(snap.Route.Path) < 2 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no route available"})
		return
	}

	body, err := routeCollection(snap).MarshalJSON()
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

func routeCollection(snap entities.TrackingSnapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	route := geojson.NewFeature(snap.Route.Path)
	route.Properties["kind"] = "route"
	route.Properties["distance_meters"] = snap.Route.DistanceMeters
	route.Properties["duration_seconds"] = snap.Route.DurationSeconds
	route.Properties["estimated_arrival"] = snap.Route.EstimatedArrival.UTC().Format(time.RFC3339)
	fc.Append(route)

	if snap.Current != nil {
		current := geojson.NewFeature(orb.Point{snap.Current.Longitude, snap.Current.Latitude})
		current.Properties["kind"] = "current"
		current.Properties["stale"] = snap.Staleness.Stale
		fc.Append(current)
	}
	if snap.Destination != nil {
		dest := geojson.NewFeature(orb.Point{snap.Destination.Longitude, snap.Destination.Latitude})
		dest.Properties["kind"] = "destination"
		if snap.Destination.Address != "" {
			dest.Properties["address"] = snap.Destination.Address
		}
		fc.Append(dest)
	}
	return fc
}

type snapshotMessage struct {
	Type string                    `json:"type"`
	Data entities.TrackingSnapshot `json:"data"`
}

// Watch handles GET /tasks/:id/tracking/ws. Authorization happens before
// the upgrade so a refused subscriber gets a plain HTTP error.
//
// Go Learning Note — One Writer per Connection:
// gorilla/websocket allows one concurrent writer. Snapshots and pings are
// both written from this handler's select loop; the reader goroutine only
// consumes control frames and notices the close.
func (h *TrackingHandler) Watch(c *gin.Context) {
	taskID := c.Param("id")
	userID := middleware.GetUserID(c)

	updates := make(chan entities.TrackingSnapshot, 1)
	push := func(snap entities.TrackingSnapshot) {
		// Latest wins: a slow client skips intermediate snapshots.
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}

	unsubscribe, err := h.tracking.SubscribeTracking(c.Request.Context(), taskID, userID, push)
	if err != nil {
		respondError(c, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "action", "tracking_ws", "task_id", taskID, "error", err.Error())
		return
	}
	defer conn.Close()
	h.log.Info("tracking subscriber connected", "action", "tracking_ws", "task_id", taskID, "user_id", userID)

	closed := make(chan struct{})
	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.log.Info("tracking subscriber disconnected", "action", "tracking_ws", "task_id", taskID, "user_id", userID)
			return
		case snap := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(snapshotMessage{Type: "snapshot", Data: snap}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
