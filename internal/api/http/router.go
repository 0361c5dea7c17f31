package http

import (
	"net/http"

	"github.com/EternisAI/silo-stations/internal/allocation"
	"github.com/EternisAI/silo-stations/internal/api/http/handler"
	"github.com/EternisAI/silo-stations/internal/api/http/middleware"
	"github.com/EternisAI/silo-stations/internal/auth"
	"github.com/EternisAI/silo-stations/internal/leases"
	"github.com/EternisAI/silo-stations/internal/metrics"
	"github.com/EternisAI/silo-stations/internal/report"
	"github.com/EternisAI/silo-stations/internal/stations"
	"github.com/EternisAI/silo-stations/internal/users"
	"github.com/gin-gonic/gin"
)

type Services struct {
	AuthService *auth.Service
	UserService *users.Service
	Authorizer  *auth.Authorizer
	Engine      *allocation.Engine
	Registry    *stations.Registry
	Ledger      *leases.Ledger
	Reports     *report.Service
	Metrics     *metrics.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// Events serves /events/ws when set.
	Events    http.Handler
	JWTSecret string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.Metrics(srvs.Metrics))

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)
	if srvs.MetricsHandler != nil {
		engine.GET("/metrics", gin.WrapH(srvs.MetricsHandler))
	}

	authHandler := handler.NewAuthHandler(srvs.AuthService)
	authGroup := engine.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	authed := engine.Group("", middleware.JWTAuth(srvs.JWTSecret))
	can := func(capability string) gin.HandlerFunc {
		return middleware.RequireCapability(srvs.Authorizer, capability)
	}

	if srvs.Events != nil {
		authed.GET("/events/ws", gin.WrapH(srvs.Events))
	}

	userHandler := handler.NewUserHandler(srvs.UserService)
	authed.GET("/users", can(auth.UserList), userHandler.ListUsers)

	stationHandler := handler.NewStationHandler(srvs.Registry)
	reportHandler := handler.NewReportHandler(srvs.Reports)
	st := authed.Group("/stations")
	st.POST("", can(auth.StationCreate), stationHandler.Create)
	st.GET("", can(auth.StationGetAll), stationHandler.List)
	st.GET("/filter", can(auth.StationFilter), stationHandler.Filter)
	st.GET("/export", can(auth.StationExport), stationHandler.Export)
	st.POST("/import", can(auth.StationImport), stationHandler.Import)
	st.GET("/report", can(auth.StationReport), reportHandler.Get)
	st.GET("/report/html", can(auth.StationReport), reportHandler.HTML)
	st.GET("/:id", can(auth.StationGetID), stationHandler.Get)
	st.PUT("/:id", can(auth.StationUpdate), stationHandler.Update)
	st.DELETE("/:id", can(auth.StationDelete), stationHandler.Delete)

	queueHandler := handler.NewQueueHandler(srvs.Engine, srvs.Ledger, srvs.Authorizer)
	q := authed.Group("/queue")
	q.POST("/assign", can(auth.QueueAssign), queueHandler.Assign)
	q.POST("/release", can(auth.QueueRelease), queueHandler.Release)
	q.GET("/active", can(auth.QueueGetActiveAll), queueHandler.Active)
	q.GET("/inactive", can(auth.QueueGetInactive), queueHandler.Inactive)
	q.GET("/:id", can(auth.QueueGetID), queueHandler.Get)
	q.GET("/station/:id/occupied", can(auth.QueueOccupied), queueHandler.Occupied)
	q.GET("/station/:id/history", can(auth.QueueHistory), queueHandler.StationHistory)
	q.GET("/user/:id/active-record", can(auth.QueueActiveRecord), queueHandler.ActiveRecord)
	q.GET("/user/:id/history", can(auth.QueueActiveRecord), queueHandler.UserHistory)
	q.GET("/user/by-name/:username/active", can(auth.QueueGetActive), queueHandler.ActiveByUsername)
}
