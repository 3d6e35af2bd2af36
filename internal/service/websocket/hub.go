package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"yolooverlay/internal/config"
	"yolooverlay/internal/dto"
	"yolooverlay/internal/logger"
	"yolooverlay/internal/service/overlay"
)

const writeWait = 2 * time.Second

// HubService fans annotated frames out to every connected viewer.
type HubService struct {
	clients    map[*websocket.Conn]uuid.UUID
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]uuid.UUID),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes
// every viewer connection.
func (h *HubService) Run(ctx context.Context) error {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			id := uuid.New()
			h.mutex.Lock()
			h.clients[client] = id
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer %s connected. Total: %d", id, total)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message []byte) {
	var failed []*websocket.Conn

	h.mutex.RLock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending frame to viewer %s: %v", h.clients[client], err)
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range failed {
		h.remove(client)
	}
}

func (h *HubService) remove(client *websocket.Conn) {
	h.mutex.Lock()
	id, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.Close()
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if ok {
		h.logger.Info("Viewer %s disconnected. Total: %d", id, total)
	}
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a viewer. After Run has returned the connection is closed
// instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every viewer. When the previous message has
// not been sent yet the new one is dropped, so a slow viewer never stalls the
// detection loop.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		return false
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Present encodes frame as JPEG and broadcasts it with its highlights. Nothing
// is encoded while no viewer is connected.
func (h *HubService) Present(frame gocv.Mat, shapes []overlay.Shape) error {
	if h.GetClientCount() == 0 {
		return nil
	}

	msg, err := EncodeFrame(frame, shapes)
	if err != nil {
		return err
	}
	if !h.Broadcast(msg) {
		h.logger.Warning("Viewers are behind, dropping frame")
	}
	return nil
}

// EncodeFrame builds the JSON frame message sent to viewers.
func EncodeFrame(frame gocv.Mat, shapes []overlay.Shape) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode frame")
	}
	defer buf.Close()

	highlights := make([]dto.Highlight, 0, len(shapes))
	for _, s := range shapes {
		highlights = append(highlights, dto.Highlight{
			Box:   s.Box,
			X:     s.Rect.Min.X,
			Y:     s.Rect.Min.Y,
			W:     s.Rect.Dx(),
			H:     s.Rect.Dy(),
			Color: config.FormatColor(s.Color),
		})
	}

	msg, err := json.Marshal(dto.FrameMessage{
		Type:       "frame",
		Image:      base64.StdEncoding.EncodeToString(buf.GetBytes()),
		Width:      frame.Cols(),
		Height:     frame.Rows(),
		Highlights: highlights,
	})
	return msg, errors.Wrap(err, "failed to marshal frame")
}
