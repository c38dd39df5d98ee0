// Package status 提供 HTTP 状态接口：健康检查、最近一帧、Prometheus 指标与 websocket 推送。
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"option-monitor-go/display"
	"option-monitor-go/gateway"
	"option-monitor-go/infrastructure/logger"
	"option-monitor-go/internal/engine"
)

const (
	writeWait     = 5 * time.Second
	clientBacklog = 16
)

// StatsProvider 提供循环统计
type StatsProvider interface {
	Statistics() engine.Statistics
}

// BreakerProvider 提供各数据源熔断器状态
type BreakerProvider interface {
	BreakerMetrics() map[string]gateway.BreakerMetrics
}

// Snapshot /status 的响应体
type Snapshot struct {
	Frame      *display.Frame                    `json:"frame,omitempty"`
	Statistics *engine.Statistics                `json:"statistics,omitempty"`
	Breakers   map[string]gateway.BreakerMetrics `json:"breakers,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server 状态服务，同时作为 display.Sink 接收每一帧。
type Server struct {
	addr     string
	stats    StatsProvider
	breakers BreakerProvider
	logger  *logger.Logger
	router  *gin.Engine
	httpSrv *http.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	last    *display.Frame
	clients map[*client]struct{}
	started bool
}

// New 创建状态服务。stats 与 metrics 可为空。
func New(addr string, stats StatsProvider, metrics http.Handler, log *logger.Logger) *Server {
	s := &Server{
		addr:    addr,
		stats:   stats,
		logger:  log,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/ws", s.handleWS)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	s.router = r
	return s
}

// SetStats 设置统计来源，刷新循环晚于状态服务创建
func (s *Server) SetStats(stats StatsProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats
}

// SetBreakers 设置熔断器状态来源
func (s *Server) SetBreakers(b BreakerProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakers = b
}

func (s *Server) breakerMetrics() map[string]gateway.BreakerMetrics {
	s.mu.Lock()
	b := s.breakers
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.BreakerMetrics()
}

func (s *Server) statistics() (engine.Statistics, bool) {
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()
	if stats == nil {
		return engine.Statistics{}, false
	}
	return stats.Statistics(), true
}

// Handler 返回路由，便于测试或挂载到其它服务
func (s *Server) Handler() http.Handler {
	return s.router
}

// Render 记录最近一帧并推送给所有 websocket 客户端。
// 积压过多的客户端会被断开，不阻塞刷新循环。
func (s *Server) Render(f display.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &f
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.dropLocked(c)
			s.logger.Warn("Dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
		}
	}
	return nil
}

// LastFrame 最近一帧
func (s *Server) LastFrame() (display.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return display.Frame{}, false
	}
	return *s.last, true
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok", "timestamp": time.Now().Unix()}
	if f, ok := s.LastFrame(); ok {
		body["lastTick"] = f.Tick
		if !f.OK() {
			body["status"] = "degraded"
			body["error"] = f.Error
		}
	}
	if st, ok := s.statistics(); ok {
		body["state"] = st.State
	}
	var open []string
	for name, m := range s.breakerMetrics() {
		if m.State != gateway.BreakerClosed {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		body["openBreakers"] = open
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleStatus(c *gin.Context) {
	var snap Snapshot
	if f, ok := s.LastFrame(); ok {
		snap.Frame = &f
	}
	if st, ok := s.statistics(); ok {
		snap.Statistics = &st
	}
	snap.Breakers = s.breakerMetrics()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, clientBacklog)}

	// 注册与补发最近一帧在同一把锁内完成，之后的帧不会丢失
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	if s.last != nil {
		if payload, err := json.Marshal(s.last); err == nil {
			cl.send <- payload
		}
	}
	s.mu.Unlock()

	go s.writePump(cl)
	s.readPump(cl)
}

// readPump 丢弃客户端消息，连接断开时注销
func (s *Server) readPump(cl *client) {
	defer func() {
		s.mu.Lock()
		s.dropLocked(cl)
		s.mu.Unlock()
	}()
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(cl *client) {
	defer cl.conn.Close()
	for payload := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (s *Server) dropLocked(cl *client) {
	if _, ok := s.clients[cl]; !ok {
		return
	}
	delete(s.clients, cl)
	close(cl.send)
}

// Start 在后台监听
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status server listen %s: %w", s.addr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func(srv *http.Server) {
		s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.LogError(err, map[string]interface{}{"component": "status_server", "action": "serve"})
		}
	}(s.httpSrv)

	s.started = true
	return nil
}

// Stop 关闭监听与所有 websocket 连接
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpSrv
	for cl := range s.clients {
		s.dropLocked(cl)
	}
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}
	s.logger.Info("Status server stopped")
	return nil
}

// Health 未启动时返回错误
func (s *Server) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("status server not started")
	}
	return nil
}
