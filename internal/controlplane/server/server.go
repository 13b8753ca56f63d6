// Package server 机器人控制面：只读状态、结算记录、日志和风控开关。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/journal"
	"github.com/betbot/updown/internal/metrics"
	"github.com/betbot/updown/internal/risk"
	"github.com/betbot/updown/internal/services"
)

var log = logrus.WithField("component", "controlplane")

// StatusSource 调度器状态
type StatusSource interface {
	Status() services.Status
	Breaker() *risk.CircuitBreaker
}

// JournalReader 结算归档查询；为 nil 时相关接口返回 503
type JournalReader interface {
	Outcomes(ctx context.Context, limit int) ([]journal.OutcomeRow, error)
	Trades(ctx context.Context, period int64) ([]journal.TradeRow, error)
	Summary(ctx context.Context) (journal.Summary, error)
	BacktestRuns(ctx context.Context, limit int) ([]journal.BacktestRun, error)
}

type Config struct {
	Listen  string
	LogFile string
	// CurrentLogFile 返回当前周期的日志文件，优先于 LogFile
	CurrentLogFile func() string
}

type Server struct {
	cfg     Config
	status  StatusSource
	journal JournalReader
}

func New(cfg Config, status StatusSource, j JournalReader) (*Server, error) {
	if status == nil {
		return nil, errors.New("status source is required")
	}
	return &Server{cfg: cfg, status: status, journal: j}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	debug := gin.WrapH(metrics.Handler())
	r.GET("/metrics", debug)
	r.GET("/debug/*path", debug)

	api := r.Group("/api")
	api.GET("/status", s.wrap(s.handleStatus))
	api.GET("/records", s.wrap(s.handleRecords))
	api.GET("/periods", s.wrap(s.handlePeriods))
	api.GET("/periods/:period/trades", s.wrap(s.handlePeriodTrades))
	api.GET("/backtests", s.wrap(s.handleBacktests))

	breaker := api.Group("/risk")
	breaker.POST("/halt", s.wrap(s.handleHalt))
	breaker.POST("/resume", s.wrap(s.handleResume))

	logs := api.Group("/logs")
	logs.GET("", s.handleLogsTail)
	logs.GET("/stream", s.handleLogsStream)

	// UI
	r.GET("/", s.wrap(s.handleUI))

	return r
}

// Run 监听 cfg.Listen 直到 ctx 结束
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("🌐 控制面监听 %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type paramsKeyType string

const paramsKey paramsKeyType = "updown_path_params"

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}
