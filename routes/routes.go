package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hotel-channel-sync/controllers"
	"hotel-channel-sync/middleware"
)

type Controllers struct {
	Units     *controllers.UnitController
	Inventory *controllers.InventoryController
	Bookings  *controllers.BookingController
	Channels  *controllers.ChannelController
	Sync      *controllers.SyncController
}

func parseCorsOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"*"}
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func SetupRouter(ctl Controllers, corsOrigins string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())

	origins := parseCorsOrigins(corsOrigins)
	allowCredentials := true
	for _, origin := range origins {
		if origin == "*" {
			allowCredentials = false
			break
		}
	}

	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Actor-Id"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/units", ctl.Units.ListUnits)
		api.POST("/units", ctl.Units.CreateUnit)

		units := api.Group("/units/:id")
		{
			units.GET("", ctl.Units.GetUnit)
			units.PATCH("", ctl.Units.UpdateUnit)
			units.GET("/locks", ctl.Inventory.ListLocks)
			units.POST("/locks", ctl.Inventory.ReserveLock)
			units.POST("/blocks", ctl.Inventory.PlaceBlock)
		}

		api.DELETE("/locks/:id", ctl.Inventory.RemoveBlock)
		api.GET("/locks/:id/history", ctl.Bookings.LockHistory)

		bookings := api.Group("/bookings")
		{
			bookings.POST("", ctl.Bookings.CreateBooking)
			bookings.GET("/:id", ctl.Bookings.GetBooking)
			bookings.PATCH("/:id/dates", ctl.Bookings.RescheduleBooking)
			bookings.POST("/:id/cancel", ctl.Bookings.CancelBooking)
			bookings.DELETE("/:id/lock", ctl.Inventory.ReleaseBookingLock)
			bookings.GET("/:id/history", ctl.Bookings.BookingHistory)
		}

		chans := api.Group("/channels")
		{
			chans.GET("", ctl.Channels.ListChannels)
			chans.POST("/:key/webhook", ctl.Channels.Webhook)
			chans.POST("/:key/test", ctl.Channels.TestConnection)
		}

		sync := api.Group("/sync")
		{
			sync.POST("/updates", ctl.Sync.PushUpdate)
			sync.POST("/flush", ctl.Sync.Flush)
			sync.GET("/queue", ctl.Sync.ListQueue)
			sync.POST("/queue/:id/retry", ctl.Sync.RetryEntry)
			sync.GET("/dispatches", ctl.Sync.ListDispatches)
		}
	}

	return r
}
