// internal/router/router.go
package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opengrants/grants-backend/internal/config"
	"github.com/opengrants/grants-backend/internal/handlers"
	"github.com/opengrants/grants-backend/internal/middleware"
	"github.com/opengrants/grants-backend/internal/services"
	"github.com/opengrants/grants-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, error) {
	// Initialize services
	notificationService := services.NewNotificationService(db)
	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage service: %w", err)
	}
	tokenService := services.NewTokenService(cfg)

	authService := services.NewAuthService(db, cfg)
	workspaceService := services.NewWorkspaceService(db, notificationService)
	reviewService := services.NewReviewService(db, workspaceService, notificationService, tokenService)
	grantService := services.NewGrantService(db, workspaceService, notificationService, tokenService, reviewService)
	applicationService := services.NewApplicationService(db, workspaceService, notificationService, grantService, reviewService)
	migrationService := services.NewMigrationService(db, notificationService, workspaceService, reviewService, applicationService, authService)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	workspaceHandler := handlers.NewWorkspaceHandler(workspaceService, migrationService)
	grantHandler := handlers.NewGrantHandler(grantService)
	applicationHandler := handlers.NewApplicationHandler(applicationService)
	reviewHandler := handlers.NewReviewHandler(reviewService)
	metadataHandler := handlers.NewMetadataHandler(storageService)
	operatorHandler := handlers.NewOperatorHandler(workspaceService, notificationService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.I18nMiddleware())
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
		}

		// Workspace routes
		workspaces := v1.Group("/workspaces")
		{
			workspaces.GET("", middleware.OptionalAuth(), workspaceHandler.ListWorkspaces)
			workspaces.GET("/:id", middleware.OptionalAuth(), workspaceHandler.GetWorkspace)

			protected := workspaces.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", workspaceHandler.CreateWorkspace)
				protected.PATCH("/:id", workspaceHandler.UpdateWorkspace)
				protected.PUT("/:id/members", workspaceHandler.UpdateMembers)
			}
		}

		// Grant routes
		grants := v1.Group("/grants")
		{
			grants.GET("", middleware.OptionalAuth(), grantHandler.ListGrants)
			grants.GET("/:id", middleware.OptionalAuth(), grantHandler.GetGrant)
			grants.GET("/:id/assignment-counts", reviewHandler.AssignmentCounts)

			protected := grants.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", grantHandler.CreateGrant)
				protected.PATCH("/:id", grantHandler.UpdateGrant)
				protected.PUT("/:id/accessibility", grantHandler.UpdateAccessibility)
				protected.POST("/:id/deposit", grantHandler.DepositFunds)
				protected.POST("/:id/disburse", grantHandler.DisburseReward)
				protected.PUT("/:id/rubrics", reviewHandler.SetRubrics)
				protected.POST("/:id/auto-assignment", reviewHandler.EnableAutoAssignment)
				protected.PUT("/:id/auto-assignment", reviewHandler.UpdateAutoAssignment)
				protected.DELETE("/:id/auto-assignment", reviewHandler.DisableAutoAssignment)
			}
		}

		// Application routes
		applications := v1.Group("/applications")
		{
			applications.GET("", middleware.OptionalAuth(), applicationHandler.ListApplications)
			applications.GET("/:id", middleware.OptionalAuth(), applicationHandler.GetApplication)
			applications.GET("/:id/reviews", middleware.OptionalAuth(), reviewHandler.ListReviews)

			protected := applications.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", applicationHandler.SubmitApplication)
				protected.PUT("/:id/state", applicationHandler.UpdateState)
				protected.PUT("/:id/resubmit", applicationHandler.Resubmit)
				protected.POST("/:id/milestones/request", applicationHandler.RequestMilestoneApproval)
				protected.POST("/:id/milestones/approve", applicationHandler.ApproveMilestone)
				protected.POST("/:id/complete", applicationHandler.Complete)
			}
		}

		// Review routes
		reviews := v1.Group("/reviews")
		reviews.Use(middleware.AuthRequired())
		{
			reviews.POST("", reviewHandler.SubmitReview)
			reviews.POST("/assign", reviewHandler.AssignReviewers)
			reviews.POST("/payments/mark", reviewHandler.MarkPaymentDone)
			reviews.POST("/payments/fulfill", reviewHandler.FulfillPayment)
		}

		// Metadata routes
		metadata := v1.Group("/metadata")
		{
			metadata.GET("/:ref", metadataHandler.Get)
			metadata.POST("", middleware.AuthRequired(), metadataHandler.Upload)
		}

		// Wallet migration
		migrations := v1.Group("/migrations")
		migrations.Use(middleware.AuthRequired(), middleware.MigrationRateLimit())
		{
			migrations.POST("/wallet", workspaceHandler.MigrateWallet)
		}

		// Operator routes
		operator := v1.Group("/operator")
		operator.Use(middleware.AuthRequired(), middleware.OperatorRequired())
		{
			operator.PUT("/ledgers/:name/pause", operatorHandler.SetPause)
			operator.GET("/events", operatorHandler.ListEvents)
		}
	}

	return r, nil
}
