package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures the Gin router with all routes.
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "docconvert",
		})
	})

	conversionHandler := NewConversionHandler(deps)

	v1 := r.Group("/api/v1")
	{
		conversions := v1.Group("/conversions")
		{
			conversions.POST("", conversionHandler.CreateConversion)
			conversions.GET("/:conversion_id", conversionHandler.GetConversion)
		}
	}

	return r
}
