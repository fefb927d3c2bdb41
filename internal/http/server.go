package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/messageboard/internal/http/middleware"
	"github.com/jmehdipour/messageboard/internal/projection"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Commands is the write side, implemented by boards.Service.
type Commands interface {
	CreateBoard(ctx context.Context, name, creatorID string) (string, error)
	PostMessage(ctx context.Context, boardID, text string, replyTo *int64, authorID string) (int64, error)
	ModerateUser(ctx context.Context, boardID, userID, actingUserID string) error
	ApproveMessage(ctx context.Context, boardID string, messageID int64, approverID string) error
	RejectMessage(ctx context.Context, boardID string, messageID int64, rejecterID string) error
}

type PostsByUser interface {
	PostsForUser(userID string) []projection.PostKey
	Position() int64
}

type Posts interface {
	Post(boardID string, messageID int64) (projection.Post, bool)
	Position() int64
}

type Deps struct {
	// Commands may be nil, which serves the query routes only.
	Commands    Commands
	PostsByUser PostsByUser
	Posts       Posts

	Redis     *redis.Client
	RateLimit int // requests per second per user, 0 = unlimited
	Gatherer  prometheus.Gatherer
	Log       *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), requestLogger(d.Log))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            d.RateLimit,
		KeyPrefix:      "rl:user:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1")
	h := &handlers{deps: d, log: d.Log}

	if d.Commands != nil {
		cmds := v1.Group("", middleware.UserMiddleware(), rlMW)
		cmds.POST("/boards", h.createBoard)
		cmds.POST("/boards/:board/messages", h.postMessage)
		cmds.POST("/boards/:board/moderations", h.moderateUser)
		cmds.POST("/boards/:board/messages/:message/approve", h.approveMessage)
		cmds.POST("/boards/:board/messages/:message/reject", h.rejectMessage)
	}

	queries := v1.Group("", rlMW)
	if d.PostsByUser != nil {
		queries.GET("/users/:user/posts", h.postsForUser)
	}
	if d.Posts != nil {
		queries.GET("/boards/:board/messages/:message", h.getPost)
	}

	return &Server{e: e, log: d.Log}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
