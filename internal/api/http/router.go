package http

import (
	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/handler"
	"github.com/Butterfly-Student/MikroBill-API/internal/api/http/middleware"
	"github.com/gin-gonic/gin"
)

// Connections is the session registry as seen by the API.
type Connections interface {
	handler.ConnectionLister
	handler.SessionEvicter
}

type Services struct {
	Devices      handler.DeviceManager
	Sync         handler.SyncManager
	Connections  Connections
	Provisioning handler.Provisioner
	Vouchers     handler.VoucherIssuer
	Expiry       handler.VoucherSessions
	HealthChecks map[string]handler.HealthCheck
}

func SetupRoute(engine *gin.Engine, srvs *Services, cfg Config) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.HealthChecks)
	engine.GET("/health", healthHandler.Check)

	api := engine.Group("/")
	api.Use(middleware.APIKeyAuth(cfg.AdminAPIKey))

	connectionHandler := handler.NewConnectionHandler(srvs.Connections)
	api.GET("/connections", connectionHandler.List)

	deviceHandler := handler.NewDeviceHandler(srvs.Devices, srvs.Sync, srvs.Connections)
	api.POST("/devices", deviceHandler.Create)
	api.GET("/devices", deviceHandler.List)

	device := api.Group("/devices/:id")
	device.GET("", deviceHandler.Get)
	device.PUT("/credentials", deviceHandler.UpdateCredentials)
	device.POST("/activate", deviceHandler.Activate)
	device.POST("/deactivate", deviceHandler.Deactivate)

	syncHandler := handler.NewSyncHandler(srvs.Sync)
	device.POST("/initialize", syncHandler.Initialize)
	device.POST("/refresh", syncHandler.Refresh)
	device.GET("/stats", syncHandler.Stats)
	device.GET("/sessions/active", syncHandler.Active)
	device.GET("/sessions/inactive", syncHandler.Inactive)

	provisioningHandler := handler.NewProvisioningHandler(srvs.Provisioning)
	device.POST("/profiles", provisioningHandler.CreateProfile)
	device.PUT("/profiles/:entity_id", provisioningHandler.UpdateProfile)
	device.POST("/users", provisioningHandler.CreateUser)
	device.PUT("/users/:entity_id", provisioningHandler.UpdateUser)
	device.GET("/entities", provisioningHandler.List)
	device.DELETE("/entities/:entity_id", provisioningHandler.Delete)

	voucherHandler := handler.NewVoucherHandler(srvs.Vouchers, srvs.Expiry)
	device.POST("/vouchers", voucherHandler.Create)
	device.GET("/vouchers/stats", voucherHandler.Stats)
	device.POST("/vouchers/cleanup", voucherHandler.Cleanup)
	device.POST("/vouchers/login", voucherHandler.Login)
	device.POST("/vouchers/logout", voucherHandler.Logout)
	device.DELETE("/vouchers/:voucher_id", voucherHandler.Delete)
	device.POST("/voucher-batches", voucherHandler.CreateBatch)
	device.GET("/voucher-batches/:batch_id/vouchers", voucherHandler.ListBatch)
	device.DELETE("/voucher-batches/:batch_id", voucherHandler.DeleteBatch)
}
