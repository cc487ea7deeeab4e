package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/maryam-mebel/support-bot/api"
	"github.com/maryam-mebel/support-bot/internal/handler"
)

const (
	pathHealth  = "/health"
	pathReady   = "/ready"
	pathSwagger = "/swagger"
)

func New(tickets *handler.TicketHandler, users *handler.UserHandler, referrals *handler.ReferralHandler, webhook *handler.WebhookHandler, health *handler.HealthHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(pathHealth, gin.WrapF(health.Health))
	r.GET(pathReady, gin.WrapF(health.Ready))
	r.GET(pathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, pathSwagger+"/") })
	r.GET(pathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = pathSwagger + "/index.html"
			c.Request.RequestURI = pathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	r.POST("/inbound", webhook.Inbound)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tickets", tickets.List)
		v1.GET("/tickets/:id", tickets.Get)
		v1.POST("/tickets/:id/messages", tickets.AppendMessage)
		v1.GET("/users/:id", users.Get)
		v1.PATCH("/users/:id", users.Update)
		v1.GET("/referrals/leaderboard", referrals.Leaderboard)
	}

	return r
}
