package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"

	ginGzip "github.com/gin-contrib/gzip"

	"github.com/gin-gonic/gin"

	"sintgpt/internal/gemini"
	"sintgpt/internal/handlers"
	"sintgpt/internal/models"
	"sintgpt/internal/ocr"
	"sintgpt/internal/payment"
	"sintgpt/internal/quota"
	"sintgpt/internal/util"
)

func main() {
	_ = godotenv.Load()

	isProduction := os.Getenv("GIN_MODE") == "release" || os.Getenv("ENV") == "production"
	util.LogInfo("Starting SintGPT in %s mode", map[bool]string{true: "production", false: "development"}[isProduction])

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		util.LogFatal("GEMINI_API_KEY is required")
	}

	poemClient := gemini.NewClient(gemini.Config{
		APIKey: apiKey,
		Model:  util.GetEnv("POEM_MODEL", gemini.DefaultPoemModel),
	})
	analysisClient := gemini.NewClient(gemini.Config{
		APIKey: apiKey,
		Model:  util.GetEnv("ANALYSIS_MODEL", gemini.DefaultAnalysisModel),
	})

	quotaStore := quota.NewMemoryStore(
		util.GetEnvDuration("POEM_QUOTA_WINDOW", DefaultQuotaWindow),
		util.GetEnvInt("POEM_QUOTA_MAX", DefaultQuotaMax),
		util.GetEnvDuration("POEM_DEBOUNCE", DefaultDebounceWindow),
	)

	app := &models.App{
		IsProduction:   isProduction,
		StartTime:      time.Now(),
		Quota:          quotaStore,
		Poems:          poemClient,
		OCR:            &ocr.Processor{Extractor: &ocr.GeminiExtractor{Client: analysisClient}},
		WebhookSecret:  os.Getenv("DODO_WEBHOOK_SECRET"),
		LimiterMap:     make(map[string]*models.RateLimiterWithTime),
		RateLimitRPS:   util.GetEnvInt("RATE_LIMIT_RPS", 5),
		RateLimitBurst: util.GetEnvInt("RATE_LIMIT_BURST", 10),
		RateLimiterTTL: util.GetEnvDuration("RATE_LIMITER_TTL", 1*time.Hour),
		StaticCacheAge: util.GetEnvDuration("STATIC_CACHE_AGE", 5*time.Minute),
	}

	if dodoKey := os.Getenv("DODO_PAYMENTS_API_KEY"); dodoKey != "" {
		checkout, err := payment.NewCheckout(dodoKey, os.Getenv("DODO_PRODUCT_ID"), !isProduction)
		if err != nil {
			util.LogWarn("Checkout disabled: %v", err)
		} else {
			app.Checkout = checkout
		}
	} else {
		util.LogWarn("DODO_PAYMENTS_API_KEY not set, checkout disabled")
	}

	router := gin.Default()

	router.Use(requestIDMiddleware())
	router.Use(securityHeadersMiddleware())

	// The poem stream must reach the client delta by delta; gzip would
	// buffer it.
	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedPaths([]string{RoutePoemGenerate}),
		ginGzip.WithExcludedExtensions([]string{".svg", ".ico", ".png", ".jpg", ".jpeg", ".gif"})))

	if err := router.SetTrustedProxies(strings.Split(util.GetEnv("TRUSTED_PROXIES", "127.0.0.1"), ",")); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	router.Use(func(c *gin.Context) {
		applyCacheHeaders(app, c)
	})

	if util.DirExists("public") {
		util.LogInfo("Serving static frontend from public/")
		router.Static("/static", "./public/static")
		router.StaticFile("/", "./public/index.html")
	}

	router.POST(RoutePoemGenerate, rateLimitMiddleware(app), func(c *gin.Context) { handlers.GeneratePoemHandler(app, c) })
	router.POST(RouteOCRImage, rateLimitMiddleware(app), func(c *gin.Context) { handlers.AnalyzeDocumentHandler(app, c) })
	router.GET(RouteCheckAccess, func(c *gin.Context) { handlers.CheckAccessHandler(app, c) })
	router.POST(RouteSetAccessCookie, rateLimitMiddleware(app), func(c *gin.Context) { handlers.GrantAccessHandler(app, c) })
	router.POST(RouteCreateCheckout, rateLimitMiddleware(app), func(c *gin.Context) { handlers.CreateCheckoutHandler(app, c) })
	router.POST(RouteDodoWebhook, func(c *gin.Context) { handlers.PaymentWebhookHandler(app, c) })
	router.GET(RouteHealthz, func(c *gin.Context) { handlers.HealthzHandler(app, c) })

	startCleanupRoutines(app, quotaStore)

	startServer(router)
}

func startServer(router *gin.Engine) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint
		util.LogInfo("Shutdown signal received, shutting down server gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			util.LogWarn("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	util.LogInfo("Server starting on http://localhost:%s", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		util.LogFatal("Server failed to start: %v", err)
	}
	<-idleConnsClosed
	util.LogInfo("Server shutdown complete")
}

func applyCacheHeaders(app *models.App, c *gin.Context) {
	if app.IsProduction && strings.HasPrefix(c.Request.URL.Path, "/static/") {
		cachecontrol.New(cachecontrol.Config{
			Public: true,
			MaxAge: cachecontrol.Duration(app.StaticCacheAge),
		})(c)
		c.Header("Vary", "Accept-Encoding")
		return
	}
	cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	})(c)
}

func startCleanupRoutines(app *models.App, store *quota.MemoryStore) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			if removed := store.Sweep(time.Now()); removed > 0 {
				util.LogInfo("Cleaned up %d expired quota entries", removed)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			cleanupStaleRateLimiters(app)
		}
	}()

	util.LogInfo("Started cleanup routines for quota entries and rate limiters")
}

func cleanupStaleRateLimiters(app *models.App) {
	app.LimiterMutex.Lock()
	defer app.LimiterMutex.Unlock()

	cutoffTime := time.Now().Add(-app.RateLimiterTTL)
	removedCount := 0

	for key, limWithTime := range app.LimiterMap {
		if limWithTime.LastAccess.Before(cutoffTime) {
			delete(app.LimiterMap, key)
			removedCount++
		}
	}

	if len(app.LimiterMap) > 50000 {
		type limiterInfo struct {
			key        string
			lastAccess time.Time
		}

		var limiters []limiterInfo
		for key, limWithTime := range app.LimiterMap {
			limiters = append(limiters, limiterInfo{key: key, lastAccess: limWithTime.LastAccess})
		}

		sort.Slice(limiters, func(i, j int) bool {
			return limiters[i].lastAccess.Before(limiters[j].lastAccess)
		})

		entriesToRemove := len(limiters) / 2
		for i := 0; i < entriesToRemove; i++ {
			delete(app.LimiterMap, limiters[i].key)
			removedCount++
		}

		util.LogInfo("Rate limiter map too large, removed %d oldest entries", entriesToRemove)
	}

	if removedCount > 0 {
		util.LogInfo("Cleaned up %d stale rate limiters", removedCount)
	}
}
