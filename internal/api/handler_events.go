package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const eventWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from the UI origin; auth lives outside this core.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamLotEvents handles the GET /api/lots/{lot_id}/events request. It
// upgrades to a websocket and forwards the lot's slot-changed and
// durations-updated events until the client disconnects.
func (h *Handler) StreamLotEvents(c *gin.Context) {
	lotID, err := strconv.ParseInt(c.Param("lot_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid lot ID"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("events: websocket upgrade failed: %v", err)
		return
	}

	subID := uuid.NewString()
	events, err := h.broadcaster.Subscribe(lotID, subID)
	if err != nil {
		conn.Close()
		return
	}
	defer func() {
		h.broadcaster.Unsubscribe(lotID, subID)
		conn.Close()
	}()

	// Reader goroutine only notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
