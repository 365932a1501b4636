package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/shelfhub/shelfhub/internal/auth"
	"github.com/shelfhub/shelfhub/internal/cache"
	"github.com/shelfhub/shelfhub/internal/config"
	"github.com/shelfhub/shelfhub/internal/http/handlers"
	"github.com/shelfhub/shelfhub/internal/http/middlewares"
	"github.com/shelfhub/shelfhub/internal/observability"
	"github.com/shelfhub/shelfhub/internal/queue/redisclient"
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
)

type RouterDeps struct {
	Cfg   config.Config
	Pool  *pgxpool.Pool
	Redis *redisclient.Client
	Prom  *observability.Prom
	Reg   prometheus.Gatherer
}

func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Cfg

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware("shelfhub-api"))
	r.Use(middlewares.RequestLogger())
	r.Use(deps.Prom.GinHandleMiddleware())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.MaxBodyBytes(1 << 20)) // 1 MiB
	r.Use(middlewares.RequireJSON())

	// health + metrics

	pingDB := func() error {
		if deps.Pool == nil {
			return nil
		}

		ctx, cancel := config.WithTimeout(1 * time.Second)
		defer cancel()

		return deps.Pool.Ping(ctx)
	}

	pingRedis := func() error {
		if deps.Redis == nil {
			return nil
		}

		ctx, cancel := config.WithTimeout(1 * time.Second)
		defer cancel()

		return deps.Redis.Ping(ctx)
	}

	health := handlers.NewHealthHandler(pingDB, pingRedis)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Reg, promhttp.HandlerOpts{})))

	// repositories

	usersRepo := postgres.NewUsersRepo(deps.Pool, deps.Prom)
	booksRepo := postgres.NewBooksRepo(deps.Pool, deps.Prom)
	categoriesRepo := postgres.NewCategoriesRepo(deps.Pool, deps.Prom)
	loansRepo := postgres.NewLoansRepo(deps.Pool, deps.Prom)
	jobsRepo := postgres.NewJobsRepo(deps.Pool, deps.Prom)
	refreshRepo := postgres.NewRefreshTokensRepo(deps.Pool)

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	authMW := middlewares.NewAuthMiddleware(jwtManager)

	// handlers

	var statsCache handlers.StatsCache
	if deps.Redis != nil {
		statsCache = deps.Redis
	}

	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, jwtManager, refreshRepo, cfg)
	usersHandler := handlers.NewUsersHandler(usersRepo, statsCache, refreshRepo)
	booksHandler := handlers.NewBooksHandler(booksRepo, cache.New(15*time.Second))
	categoriesHandler := handlers.NewCategoriesHandler(categoriesRepo)
	loansHandler := handlers.NewLoansHandler(loansRepo, jobsRepo)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)

	authLimiter := middlewares.NewRateLimiter(10, time.Minute)
	apiLimiter := middlewares.NewRateLimiter(120, time.Minute)

	// auth (IP-keyed limiter: no identity yet)

	authGroup := r.Group("/auth")
	authGroup.Use(authLimiter.RateLimiterMiddleware(middlewares.KeyByIP))
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
	}

	// public catalog reads

	r.GET("/books", booksHandler.List)
	r.GET("/books/:id", booksHandler.GetByID)
	r.GET("/categories", categoriesHandler.List)
	r.GET("/categories/:id", categoriesHandler.GetByID)

	// authenticated surface

	authed := r.Group("/")
	authed.Use(authMW.RequireAuth())
	authed.Use(apiLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))
	{
		authed.GET("/users/me", authHandler.Me)
		authed.PATCH("/users/me", usersHandler.UpdateMe)
		authed.PUT("/users/me/password", usersHandler.ChangePassword)
		authed.GET("/users/me/loans", loansHandler.ListMine)

		authed.POST("/loans", loansHandler.Borrow)
		authed.POST("/loans/:id/return", loansHandler.Return)
	}

	// staff surface (librarian or admin)

	staff := r.Group("/")
	staff.Use(authMW.RequireAuth())
	staff.Use(apiLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))
	staff.Use(authMW.RequireRole("librarian", "admin"))
	{
		staff.POST("/books", booksHandler.Create)
		staff.PATCH("/books/:id", booksHandler.Update)
		staff.DELETE("/books/:id", booksHandler.Delete)
		staff.GET("/books/:id/loans", loansHandler.ListByBook)

		staff.POST("/categories", categoriesHandler.Create)
		staff.PATCH("/categories/:id", categoriesHandler.Update)
		staff.DELETE("/categories/:id", categoriesHandler.Delete)

		staff.GET("/admin/users", usersHandler.List)
		staff.GET("/admin/users/stats", usersHandler.Stats)
		staff.GET("/admin/users/:id", usersHandler.GetByID)
		staff.GET("/admin/users/:id/loans", loansHandler.ListByUser)
		staff.GET("/admin/loans/stats", loansHandler.Stats)
		staff.POST("/admin/loans/overdue-sweep", loansHandler.OverdueSweep)
	}

	// admin-only surface

	admin := r.Group("/")
	admin.Use(authMW.RequireAuth())
	admin.Use(apiLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP))
	admin.Use(authMW.RequireRole("admin"))
	{
		admin.POST("/admin/users", usersHandler.Create)
		admin.PATCH("/admin/users/:id", usersHandler.Update)
		admin.PUT("/admin/users/:id/role", usersHandler.UpdateRole)
		admin.PUT("/admin/users/:id/status", usersHandler.UpdateStatus)
		admin.DELETE("/admin/users/:id", usersHandler.Delete)

		admin.GET("/admin/jobs", adminJobsHandler.List)
		admin.GET("/admin/jobs/:id", adminJobsHandler.GetByID)
		admin.POST("/admin/jobs/:id/retry", adminJobsHandler.Retry)
		admin.POST("/admin/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)
	}

	return r
}
