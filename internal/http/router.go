package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/boostgram/backend/internal/auth"
	"github.com/boostgram/backend/internal/config"
	"github.com/boostgram/backend/internal/db"
	"github.com/boostgram/backend/internal/feed"
	"github.com/boostgram/backend/internal/http/handlers"
	"github.com/boostgram/backend/internal/http/middleware"
	"github.com/boostgram/backend/internal/support"
	"github.com/boostgram/backend/internal/uploads"

	_ "github.com/boostgram/backend/docs"
)

func Router(cfg config.Config, store db.Store, src feed.Source, uploader uploads.Uploader, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	tokens := auth.NewManager(cfg.JWTSecret)
	h := &handlers.Handler{
		Store:     store,
		Feed:      src,
		Auth:      tokens,
		Uploader:  uploader,
		Validator: validator.New(),
		Logger:    logger,
		Engine: support.Options{
			PageSize:       cfg.MessagePageSize,
			TypingTimeout:  cfg.TypingTimeout,
			HeartbeatEvery: cfg.HeartbeatEvery,
		},
	}

	r.GET("/healthz", h.Healthz)
	if cfg.S3Bucket == "" {
		r.Static("/uploads", cfg.UploadDir)
	}

	api := r.Group("/api")
	{
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)
	}

	authed := api.Group("")
	authed.Use(middleware.Auth(tokens))
	{
		authed.GET("/auth/me", h.Me)
		authed.GET("/services", h.ServicesList)
		authed.POST("/orders", h.OrderCreate)
		authed.GET("/orders", h.OrdersList)
		authed.GET("/orders/:id", h.OrderDetails)
		authed.POST("/deposits", h.DepositCreate)

		authed.GET("/support/tickets", h.TicketsList)
		authed.GET("/support/tickets/:id", h.TicketDetails)
		authed.GET("/support/threads/:kind/:id/messages", h.MessagesPage)
		authed.POST("/support/uploads", h.Upload)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.Auth(tokens), middleware.RequireAdmin())
	{
		admin.GET("/users", h.UsersList)
		admin.POST("/services", h.ServiceCreate)
		admin.GET("/orders", h.AdminOrdersList)
		admin.PATCH("/orders/:id/status", h.OrderStatusUpdate)
		admin.GET("/deposits", h.DepositsList)
		admin.POST("/deposits/:id/approve", h.DepositApprove)
		admin.POST("/deposits/:id/reject", h.DepositReject)
		admin.GET("/stats", h.Stats)
		admin.GET("/conversations", h.ConversationsList)
		admin.GET("/conversations/:id/notes", h.NotesList)
	}

	ws := r.Group("/ws")
	ws.Use(middleware.Auth(tokens))
	{
		ws.GET("/support", h.SupportWS)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
