package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/valora-onboarding/internal/config"
	"github.com/smallbiznis/valora-onboarding/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/valora-onboarding/internal/http/middleware"
	"github.com/smallbiznis/valora-onboarding/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, onboardingHandler *handler.OnboardingHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	org := r.Group("/organization")
	{
		org.POST("/invite", onboardingHandler.Invite)
	}

	r.GET("/organizations", onboardingHandler.Organizations)
	r.GET("/invite/validate", onboardingHandler.ValidateInvite)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/temporary-login", onboardingHandler.TemporaryLogin)

		otp := authGroup.Group("/otp")
		{
			otp.POST("/resend", onboardingHandler.ResendOTP)
			otp.POST("/verify", onboardingHandler.VerifyOTP)
		}
	}

	return r
}
