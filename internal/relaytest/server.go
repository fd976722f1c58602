// Package relaytest is an in-memory implementation of the directory and
// signal relay HTTP contract. It backs the integration tests and the
// devrelay command; it is not a production server.
package relaytest

import (
	"net/http"
	"sync"

	"github.com/convento/voicemesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type roomState struct {
	room domain.Room
	// queues holds undelivered envelopes per recipient.
	queues map[domain.UserID][]domain.SignalEnvelope
}

// Server holds all state behind a single mutex; the traffic volume of a
// test or a dev session does not justify anything finer.
type Server struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomState
	users map[domain.UserID]domain.Participant

	// Redeliver, when set, is consulted on every poll; returning true keeps
	// the popped envelopes queued so the next poll sees them again. Tests
	// use it to exercise duplicate-delivery tolerance.
	Redeliver func(room domain.RoomID, user domain.UserID) bool
}

func NewServer() *Server {
	return &Server{
		rooms: make(map[domain.RoomID]*roomState),
		users: make(map[domain.UserID]domain.Participant),
	}
}

// RegisterUser records participant metadata so the participants listing can
// return names and colors, mirroring what a real directory would know.
func (s *Server) RegisterUser(p domain.Participant) {
	s.mu.Lock()
	s.users[p.ID] = p
	s.mu.Unlock()
}

// Router builds the gin engine exposing the directory and relay routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/rooms", s.createRoom)
	r.GET("/rooms", s.listRooms)
	r.POST("/rooms/:id/join", s.join)
	r.POST("/rooms/:id/leave", s.leave)
	r.GET("/rooms/:id/participants", s.participants)
	r.PUT("/rooms/:id/visibility", s.setVisibility)

	r.POST("/webrtc/signal", s.pushSignal)
	r.GET("/webrtc/signals/:room/:user", s.popSignals)

	return r
}

func (s *Server) createRoom(c *gin.Context) {
	var req struct {
		Name      string        `json:"name"`
		Color     string        `json:"color"`
		CreatorID domain.UserID `json:"creator_id"`
		Private   bool          `json:"private"`
	}
	if err := c.BindJSON(&req); err != nil || req.Name == "" || req.CreatorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room request"})
		return
	}

	room := domain.Room{
		ID:           domain.RoomID(uuid.NewString()),
		Name:         req.Name,
		Color:        req.Color,
		CreatorID:    req.CreatorID,
		Private:      req.Private,
		Participants: []domain.UserID{req.CreatorID},
	}

	s.mu.Lock()
	s.rooms[room.ID] = &roomState{
		room:   room,
		queues: make(map[domain.UserID][]domain.SignalEnvelope),
	}
	s.mu.Unlock()

	c.JSON(http.StatusCreated, room)
}

// listRooms returns public rooms only; private rooms are reachable by ID
// but never advertised.
func (s *Server) listRooms(c *gin.Context) {
	s.mu.Lock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, st := range s.rooms {
		if !st.room.Private {
			out = append(out, st.room)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) join(c *gin.Context) {
	user := domain.UserID(c.Query("user_id"))
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[domain.RoomID(c.Param("id"))]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if !st.room.HasParticipant(user) {
		st.room.Participants = append(st.room.Participants, user)
	}
	c.JSON(http.StatusOK, st.room)
}

func (s *Server) leave(c *gin.Context) {
	user := domain.UserID(c.Query("user_id"))
	roomID := domain.RoomID(c.Param("id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[roomID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	kept := st.room.Participants[:0]
	for _, id := range st.room.Participants {
		if id != user {
			kept = append(kept, id)
		}
	}
	st.room.Participants = kept
	delete(st.queues, user)

	// Last one out deletes the room.
	if len(st.room.Participants) == 0 {
		delete(s.rooms, roomID)
	}
	c.JSON(http.StatusOK, gin.H{"left": user})
}

func (s *Server) participants(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[domain.RoomID(c.Param("id"))]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	out := make([]domain.Participant, 0, len(st.room.Participants))
	for _, id := range st.room.Participants {
		if p, known := s.users[id]; known {
			out = append(out, p)
		} else {
			out = append(out, domain.Participant{ID: id, Username: string(id)})
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) setVisibility(c *gin.Context) {
	caller := domain.UserID(c.Query("user_id"))
	private := c.Query("private") == "true"

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[domain.RoomID(c.Param("id"))]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if st.room.CreatorID != caller {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the creator can change visibility"})
		return
	}
	st.room.Private = private
	c.JSON(http.StatusOK, st.room)
}

func (s *Server) pushSignal(c *gin.Context) {
	var env domain.SignalEnvelope
	if err := c.BindJSON(&env); err != nil || !env.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[env.RoomID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	st.queues[env.To] = append(st.queues[env.To], env)
	c.JSON(http.StatusOK, gin.H{"queued": true})
}

// popSignals drains the recipient's queue. Delivery pops, except when the
// Redeliver hook asks for a repeat.
func (s *Server) popSignals(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))
	user := domain.UserID(c.Param("user"))

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rooms[room]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	envs := st.queues[user]
	if envs == nil {
		envs = []domain.SignalEnvelope{}
	}
	if s.Redeliver == nil || !s.Redeliver(room, user) {
		delete(st.queues, user)
	}
	c.JSON(http.StatusOK, envs)
}

// Pending reports queued-but-undelivered envelopes for assertions.
func (s *Server) Pending(room domain.RoomID, user domain.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.rooms[room]; ok {
		return len(st.queues[user])
	}
	return 0
}
