package api

import (
	"github.com/gin-gonic/gin"

	"github.com/orrn/cloudprnt/internal/api/middleware"
)

// Router bundles every handler this service exposes. Grounded on the
// webui/handlers RegisterRoutes convention throughout the teacher's
// internal/api/handlers package: each concern owns its routes and
// registers itself onto a shared engine.
type Router struct {
	Auth     *middleware.Auth
	Dispatch *DispatchHandler
	Intake   *IntakeHandler
	Query    *QueryHandler
	Admin    *AdminHandler
}

func (rt *Router) Build() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	rt.Dispatch.RegisterRoutes(engine)
	rt.Intake.RegisterRoutes(engine)
	rt.Query.RegisterRoutes(engine)

	adminGroup := engine.Group("/api/admin")
	adminGroup.POST("/setup", rt.Auth.SetupHandler)
	adminGroup.POST("/login", rt.Auth.LoginHandler)
	adminGroup.GET("/status", rt.Auth.StatusHandler)

	guarded := adminGroup.Group("")
	guarded.Use(rt.Auth.RequireAuth())
	rt.Admin.RegisterRoutes(guarded)

	return engine
}
