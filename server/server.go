package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ardnew/softant/message"
	"github.com/ardnew/softant/node"
	"github.com/ardnew/softant/pkg"
	"github.com/ardnew/softant/profile"
)

// Defaults for a Server.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultTxAttempts = 3
)

// Node is the part of node.Node the server drives.
type Node interface {
	IsRunning() bool
	Capabilities() message.Capabilities
	SerialNumber() uint32
	Channels() []node.Info
	OpenChannel(ctx context.Context, num int, p profile.Profile, deviceNumber uint16) (int, error)
	CloseChannel(ctx context.Context, num int) error
	GetChannelStatus(ctx context.Context, num int) (message.ChannelStatus, error)
	GetChannelID(ctx context.Context, num int) (message.ChannelID, error)
	SendTxRetry(ctx context.Context, num int, m message.Message, attempts int) error
}

var _ Node = (*node.Node)(nil)

// Server is the HTTP front end of a Node.
type Server struct {
	node       Node
	broker     *Broker
	router     chi.Router
	upgrader   websocket.Upgrader
	timeout    time.Duration
	txAttempts int
	profiler   bool
}

// Option configures a Server.
type Option func(*Server)

// WithTimeout bounds the handling time of every REST request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithTxAttempts sets how often FE-C commands are sent before giving up.
// Zero or less retries until the request times out.
func WithTxAttempts(n int) Option {
	return func(s *Server) { s.txAttempts = n }
}

// WithProfiler mounts the pprof handlers under /debug.
func WithProfiler() Option {
	return func(s *Server) { s.profiler = true }
}

// New returns a Server for n publishing stream events from b.
func New(n Node, b *Broker, opts ...Option) *Server {
	s := &Server{
		node:       n,
		broker:     b,
		timeout:    DefaultTimeout,
		txAttempts: DefaultTxAttempts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if s.profiler {
		r.Mount("/debug", middleware.Profiler())
	}

	// Websocket connections outlive any request timeout.
	r.Get("/stream", s.stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))

		r.Get("/health", s.health)
		r.Get("/capabilities", s.capabilities)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.listChannels)
			r.Route("/{num}", func(r chi.Router) {
				r.Post("/", s.openChannel)
				r.Delete("/", s.closeChannel)
				r.Get("/status", s.channelStatus)
				r.Get("/id", s.channelID)
				r.Post("/grade", s.setGrade)
				r.Post("/user-config", s.userConfig)
			})
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		pkg.LogDebug(pkg.ComponentServer, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// ============================================================================
// Device
// ============================================================================

type healthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Serial  uint32 `json:"serial_number,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Running: s.node.IsRunning()}
	if !resp.Running {
		resp.Status = "stopped"
		jsonResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Serial = s.node.SerialNumber()
	jsonResponse(w, http.StatusOK, resp)
}

type capabilitiesResponse struct {
	MaxChannels          int     `json:"max_channels"`
	MaxNetworks          int     `json:"max_networks"`
	MaxSensRcoreChannels int     `json:"max_sensrcore_channels"`
	StandardOptions      [8]bool `json:"standard_options"`
	AdvancedOptions      [8]bool `json:"advanced_options"`
	AdvancedOptions2     [8]bool `json:"advanced_options2"`
	AdvancedOptions3     [8]bool `json:"advanced_options3"`
	AdvancedOptions4     [8]bool `json:"advanced_options4"`
}

func (s *Server) capabilities(w http.ResponseWriter, r *http.Request) {
	if !s.node.IsRunning() {
		errorResponse(w, http.StatusServiceUnavailable, pkg.ErrNotRunning.Error())
		return
	}
	c := s.node.Capabilities()
	jsonResponse(w, http.StatusOK, capabilitiesResponse{
		MaxChannels:          c.MaxChannels,
		MaxNetworks:          c.MaxNetworks,
		MaxSensRcoreChannels: c.MaxSensRcoreChannels,
		StandardOptions:      c.StandardOptions,
		AdvancedOptions:      c.AdvancedOptions,
		AdvancedOptions2:     c.AdvancedOptions2,
		AdvancedOptions3:     c.AdvancedOptions3,
		AdvancedOptions4:     c.AdvancedOptions4,
	})
}

// ============================================================================
// Channels
// ============================================================================

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.node.Channels()
	if channels == nil {
		channels = []node.Info{}
	}
	jsonResponse(w, http.StatusOK, channels)
}

type openRequest struct {
	Profile      string `json:"profile"`
	DeviceNumber uint16 `json:"device_number"`
}

func (s *Server) openChannel(w http.ResponseWriter, r *http.Request) {
	num, ok := channelParam(w, r)
	if !ok {
		return
	}
	var req openRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := profile.Lookup(req.Profile)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.node.OpenChannel(r.Context(), num, p, req.DeviceNumber); err != nil {
		nodeError(w, err)
		return
	}
	pkg.LogInfo(pkg.ComponentServer, "channel opened", "channel", num, "profile", p.Name)
	jsonResponse(w, http.StatusCreated, s.info(num))
}

func (s *Server) closeChannel(w http.ResponseWriter, r *http.Request) {
	num, ok := channelParam(w, r)
	if !ok {
		return
	}
	if err := s.node.CloseChannel(r.Context(), num); err != nil {
		nodeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Channel     byte   `json:"channel"`
	State       string `json:"state"`
	Network     byte   `json:"network"`
	ChannelType byte   `json:"channel_type"`
}

func (s *Server) channelStatus(w http.ResponseWriter, r *http.Request) {
	num, ok := channelParam(w, r)
	if !ok {
		return
	}
	st, err := s.node.GetChannelStatus(r.Context(), num)
	if err != nil {
		nodeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, statusResponse{
		Channel:     st.Channel,
		State:       st.StateName(),
		Network:     st.Network,
		ChannelType: st.ChannelType,
	})
}

type idResponse struct {
	Channel      byte   `json:"channel"`
	DeviceNumber uint16 `json:"device_number"`
	DeviceType   byte   `json:"device_type"`
	TransType    byte   `json:"trans_type"`
}

func (s *Server) channelID(w http.ResponseWriter, r *http.Request) {
	num, ok := channelParam(w, r)
	if !ok {
		return
	}
	id, err := s.node.GetChannelID(r.Context(), num)
	if err != nil {
		nodeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, idResponse{
		Channel:      id.Channel,
		DeviceNumber: id.DeviceNumber,
		DeviceType:   id.DeviceType,
		TransType:    id.TransType,
	})
}

// ============================================================================
// FE-C
// ============================================================================

type gradeRequest struct {
	Grade *float64 `json:"grade"`
	Crr   *byte    `json:"crr,omitempty"`
}

func (s *Server) setGrade(w http.ResponseWriter, r *http.Request) {
	num, ok := channelParam(w, r)
	if !ok {
		return
	}
	var req gradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Grade == nil {
		errorResponse(w, http.StatusBadRequest, "grade is required")
		return
	}
	if *req.Grade < -200 || *req.Grade > 200 {
		errorResponse(w, http.StatusBadRequest, "grade out of range")
		return
	}
	crr := byte(profile.DefaultCrr)
	if req.Crr != nil {
		crr = *req.Crr
	}
	m := profile.TrackResistance(byte(num), *req.Grade, crr)
	if err := s.node.SendTxRetry(r.Context(), num, m, s.txAttempts); err != nil {
		nodeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"channel": num,
		"grade":   *req.Grade,
		"raw":     profile.GradeRaw(*req.Grade),
	})
}

type userConfigRequest struct {
	UserWeight    float64 `json:"user_weight"`
	BikeWeight    float64 `json:"bike_weight"`
	WheelDiameter float64 `json:"wheel_diameter"`
	WheelOffset   byte    `json:"wheel_offset"`
	GearRatio     float64 `json:"gear_ratio"`
}

func (s *Server) userConfig(w http.ResponseWriter, r *http.Request) {
	num, ok := channelParam(w, r)
	if !ok {
		return
	}
	req := userConfigRequest{
		UserWeight:    profile.DefaultUserConfig.UserWeight,
		BikeWeight:    profile.DefaultUserConfig.BikeWeight,
		WheelDiameter: profile.DefaultUserConfig.WheelDiameter,
		WheelOffset:   profile.DefaultUserConfig.WheelOffset,
		GearRatio:     profile.DefaultUserConfig.GearRatio,
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserWeight <= 0 || req.BikeWeight < 0 || req.WheelDiameter < 0 || req.WheelOffset > 10 {
		errorResponse(w, http.StatusBadRequest, "invalid user configuration")
		return
	}
	cfg := profile.UserConfig(req)
	if err := s.node.SendTxRetry(r.Context(), num, profile.UserConfiguration(byte(num), cfg), s.txAttempts); err != nil {
		nodeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, req)
}

// ============================================================================
// Stream
// ============================================================================

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	topics := Topics
	if q := r.URL.Query().Get("topics"); q != "" {
		topics = nil
		for _, t := range strings.Split(q, ",") {
			switch t = strings.TrimSpace(t); t {
			case TopicBroadcast, TopicEvent, TopicError:
				topics = append(topics, t)
			default:
				errorResponse(w, http.StatusBadRequest, "unknown topic "+strconv.Quote(t))
				return
			}
		}
	}

	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.LogWarn(pkg.ComponentServer, "websocket upgrade failed", "error", err)
		return
	}
	defer c.Close()
	// The server's read deadline survives the hijack.
	c.SetReadDeadline(time.Time{})

	events := s.broker.Subscribe(topics...)
	defer s.broker.Unsubscribe(events)

	// The reader notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	pkg.LogDebug(pkg.ComponentServer, "stream subscribed", "remote", r.RemoteAddr, "topics", topics)
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				pkg.LogWarn(pkg.ComponentServer, "marshal event", "error", err)
				continue
			}
			c.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
				pkg.LogDebug(pkg.ComponentServer, "stream closed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Server) info(num int) *node.Info {
	for _, info := range s.node.Channels() {
		if info.Number == num {
			return &info
		}
	}
	return nil
}

func channelParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	num, err := strconv.Atoi(chi.URLParam(r, "num"))
	if err != nil || num < 0 {
		errorResponse(w, http.StatusBadRequest, pkg.ErrInvalidChannel.Error())
		return 0, false
	}
	return num, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusOf maps a node error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, pkg.ErrInvalidChannel),
		errors.Is(err, pkg.ErrInvalidParameter),
		errors.Is(err, pkg.ErrInvalidNetwork):
		return http.StatusBadRequest
	case errors.Is(err, pkg.ErrChannelInUse):
		return http.StatusConflict
	case errors.Is(err, pkg.ErrChannelNotOpen):
		return http.StatusNotFound
	case errors.Is(err, pkg.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func nodeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		pkg.LogWarn(pkg.ComponentServer, "request failed", "status", status, "error", err)
	}
	errorResponse(w, status, err.Error())
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]any{
		"error": message,
		"code":  status,
	})
}
