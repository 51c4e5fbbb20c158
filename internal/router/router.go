package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qaboard/internal/forum"
	"qaboard/internal/handlers"
	"qaboard/internal/identity"
	"qaboard/internal/ledger"
	"qaboard/internal/middleware"
	"qaboard/internal/tally"
)

type Deps struct {
	Forum       *forum.Service
	Ledger      *ledger.Ledger
	Feed        *tally.Feed           // nil disables the tally stream
	Verifier    *identity.JWTVerifier // nil disables bearer tokens
	CORSOrigins []string
	Logger      *slog.Logger
}

// RegisterRoutes mounts the JSON API on r. Session middleware must already
// be installed on r.
func RegisterRoutes(r *gin.Engine, d Deps) {
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(d.Verifier, d.Logger)
	questionHandler := handlers.NewQuestionHandler(d.Forum, d.Logger)
	voteHandler := handlers.NewVoteHandler(d.Ledger, d.Feed, d.Logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.LoadVoter(d.Verifier, d.Logger))

	// 公共路由 (Public Routes)
	api.GET("/questions", questionHandler.List)                    // 问题列表
	api.GET("/questions/:id", questionHandler.Detail)              // 问题详情
	api.GET("/questions/:id/answers", questionHandler.ListAnswers) // 回答列表
	api.GET("/answers/:id/tally", voteHandler.Tally)               // 当前票数
	api.GET("/answers/:id/tally/stream", voteHandler.Stream)       // 票数推送 (SSE)
	api.POST("/session", authHandler.Login)                        // 令牌换会话
	api.DELETE("/session", authHandler.Logout)                     // 退出登录

	// 受保护路由 (Protected Routes)
	authorized := api.Group("")
	authorized.Use(middleware.VoterRequired())
	{
		authorized.GET("/session", authHandler.Me)                              // 当前用户
		authorized.POST("/questions", questionHandler.Create)                   // 提问
		authorized.POST("/questions/:id/answers", questionHandler.CreateAnswer) // 回答
		authorized.GET("/answers/:id/vote", voteHandler.MyVote)                 // 我的投票
		authorized.POST("/answers/:id/vote", voteHandler.Vote)                  // 赞/踩
	}
}
