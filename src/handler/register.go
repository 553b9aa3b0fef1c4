package handler

import (
	"context"
	"reflect"
	"time"

	"github.com/ethaccount/paymaster/src/service"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/shopspring/decimal"
)

// RegisterValidators lets binding tags such as required see decimal values.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if value, ok := field.Interface().(decimal.Decimal); ok {
				return value.String()
			}
			return nil
		}, decimal.Decimal{})
	}
}

func RegisterRoutes(ctx context.Context, router *gin.Engine, paymasterService *service.PaymasterService, apiSecret string) {
	RegisterValidators()

	SetMiddlewares(ctx, router)

	paymasterHandler := NewPaymasterHandler(paymasterService)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", NewHealthCheck(time.Now()))
		v1.GET("/info", paymasterHandler.GetInfo)

		v1.POST("/sponsor", paymasterHandler.Sponsor)
		v1.POST("/hash", paymasterHandler.GetHash)
		v1.POST("/validate", paymasterHandler.Validate)
		v1.GET("/sponsorships/:userOpHash", paymasterHandler.GetSponsorship)

		// Settlement is the entry point's hook, not a public endpoint
		settlement := v1.Group("", SharedSecretMiddleware(apiSecret))
		settlement.POST("/postop", paymasterHandler.PostOp)

		// Sponsor accounts; moving funds requires the shared secret
		v1.GET("/sponsors/:address", paymasterHandler.GetSponsor)
		v1.GET("/sponsors/:address/entries", paymasterHandler.GetSponsorEntries)

		admin := v1.Group("/sponsors/:address", SharedSecretMiddleware(apiSecret))
		admin.POST("/deposit", paymasterHandler.Deposit)
		admin.POST("/withdraw", paymasterHandler.Withdraw)
	}
}
