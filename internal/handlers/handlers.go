package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"sintgpt/internal/gemini"
	"sintgpt/internal/models"
	"sintgpt/internal/ocr"
	"sintgpt/internal/payment"
	"sintgpt/internal/poem"
	"sintgpt/internal/quota"
	"sintgpt/internal/util"
)

// Cost per 1M tokens for the poem model. Logged only, never billed to users.
const (
	poemInputTokenCost  = 1.25
	poemOutputTokenCost = 10.0
)

// GeneratePoemHandler validates the request, enforces debounce and the daily
// quota (unless the caller holds unlimited access), and relays the generated
// poem as a live event stream. Rejections happen before any provider call.
func GeneratePoemHandler(app *models.App, c *gin.Context) {
	var req models.PoemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "fields": fields})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ip := c.ClientIP()
	if payment.HasUnlimitedAccess(c.Request) {
		util.LogInfo("Unlimited access cookie present, skipping limits for %s", ip)
	} else {
		decision := app.Quota.Admit(ip, time.Now())
		if !decision.Allowed {
			var msg string
			switch decision.Reason {
			case quota.ReasonDebounced:
				msg = fmt.Sprintf("Rustig aan! Probeer het over %s opnieuw.", util.FormatWait(decision.Remaining))
			default:
				msg = fmt.Sprintf("Je kunt maar een paar gedichten per dag genereren. Probeer het over %s opnieuw.", util.FormatWait(decision.Remaining))
			}
			util.LogWarn("Rate limit exceeded for IP: %s", ip)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": msg})
			return
		}
	}

	util.LogInfo("Generating poem: name=%s style=%s rhyme=%s lines=%d language=%s",
		req.Name, req.Style, req.RhymeScheme, req.Lines, req.Language)

	prompt := poem.BuildPrompt(&req)
	ctx := c.Request.Context()
	events, errs := app.Poems.GenerateStream(ctx, prompt, gemini.GenerateOptions{
		Temperature:    2.0,
		ThinkingBudget: -1,
	})

	// Hold the response open until the provider either fails (structured
	// error, no stream started) or produces its first event.
	var pending *gemini.StreamEvent
	select {
	case ev, ok := <-events:
		if !ok {
			// Producer wound down without a single event; prefer its error,
			// if any, over an empty stream.
			if err := <-errs; err != nil {
				writeProviderError(c, err)
				return
			}
		} else {
			pending = &ev
		}
	case err := <-errs:
		if err != nil {
			writeProviderError(c, err)
			return
		}
	case <-ctx.Done():
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeStreamEvent(c, gin.H{"type": "start"})
	if pending != nil {
		relayEvent(c, *pending)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				writeStreamDone(c)
				return
			}
			relayEvent(c, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				util.LogError("Poem stream failed mid-relay: %v", err)
				writeStreamEvent(c, gin.H{"type": "error", "errorText": err.Error()})
				writeStreamDone(c)
				return
			}
		case <-ctx.Done():
			// Client went away; the cancelled context aborts the upstream
			// call and the producer winds down on its own.
			util.LogWarn("Client disconnected mid-stream for %s", ip)
			return
		}
	}
}

func relayEvent(c *gin.Context, ev gemini.StreamEvent) {
	if ev.Usage != nil {
		inputCost, outputCost, totalCost := gemini.EstimateCost(*ev.Usage, poemInputTokenCost, poemOutputTokenCost)
		util.LogInfo("Poem usage: prompt=%d output=%d thinking=%d cost=$%.4f (in=$%.4f out=$%.4f)",
			ev.Usage.PromptTokens, ev.Usage.CompletionTokens, ev.Usage.ThinkingTokens,
			totalCost, inputCost, outputCost)
		writeStreamEvent(c, gin.H{"type": "finish"})
		return
	}
	if ev.Delta != "" {
		writeStreamEvent(c, gin.H{"type": "text-delta", "delta": ev.Delta})
	}
}

func writeStreamEvent(c *gin.Context, payload gin.H) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}

func writeStreamDone(c *gin.Context) {
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func writeProviderError(c *gin.Context, err error) {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": "AI API Error: " + apiErr.Message})
		return
	}
	util.LogError("Error generating poem: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate poem", "originalError": err.Error()})
}

// AnalyzeDocumentHandler accepts one uploaded image or PDF and returns the
// per-page structured analysis with aggregate usage and cost.
func AnalyzeDocumentHandler(app *models.App, c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file in the request."})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file in the request."})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file in the request."})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	result, err := app.OCR.Process(c.Request.Context(), data, contentType)
	if err != nil {
		writeAnalysisError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func writeAnalysisError(c *gin.Context, err error) {
	util.LogError("Error processing document analysis request: %v", err)

	switch {
	case errors.Is(err, ocr.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type. Only images and PDFs are supported."})
	case errors.Is(err, ocr.ErrEmptyDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Document has no pages."})
	default:
		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "API rate limit exceeded. Please try again later."})
				return
			}
			status := apiErr.StatusCode
			if status < http.StatusBadRequest {
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": "AI API Error: " + apiErr.Message})
			return
		}
		if strings.Contains(err.Error(), "does not match schema") {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "AI failed to generate an analysis matching the required format."})
			return
		}
		var procErr *ocr.ProcessingError
		if errors.As(err, &procErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error processing PDF document."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error: Could not analyze document.", "originalError": err.Error()})
	}
}

// CheckAccessHandler reports whether the caller holds the access cookie.
func CheckAccessHandler(_ *models.App, c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"hasAccess": payment.HasUnlimitedAccess(c.Request)})
}

// GrantAccessHandler sets a fresh randomly-named access cookie, valid one
// year.
func GrantAccessHandler(app *models.App, c *gin.Context) {
	name, err := payment.NewAccessCookieName()
	if err != nil {
		util.LogError("Error setting access cookie: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set access cookie"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "true", payment.AccessCookieMaxAge, "/", "", app.IsProduction, true)
	util.LogInfo("Access cookie set: %s", name)

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Unlimited access granted"})
}

// CreateCheckoutHandler creates a provider checkout session and returns its
// redirect URL.
func CreateCheckoutHandler(app *models.App, c *gin.Context) {
	if app.Checkout == nil {
		util.LogError("Payment system not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Payment system not configured"})
		return
	}

	host := c.Request.Host
	if host == "" {
		host = "localhost:8080"
	}
	scheme := "https"
	if strings.Contains(host, "localhost") {
		scheme = "http"
	}

	checkoutURL, err := app.Checkout.CreateSession(c.Request.Context(), scheme+"://"+host)
	if err != nil {
		util.LogError("Error creating checkout session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkoutUrl": checkoutURL})
}

// PaymentWebhookHandler verifies and dispatches provider webhook events.
func PaymentWebhookHandler(app *models.App, c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No body provided"})
		return
	}

	if app.WebhookSecret != "" {
		for _, h := range []string{"webhook-id", "webhook-signature", "webhook-timestamp"} {
			if c.GetHeader(h) == "" {
				util.LogError("Missing webhook header: %s", h)
				c.JSON(http.StatusBadRequest, gin.H{"error": "Missing webhook headers"})
				return
			}
		}
	}

	event, err := payment.ParseWebhook(app.WebhookSecret, body, c.Request.Header)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			util.LogError("Webhook verification failed: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Webhook verification failed"})
			return
		}
		util.LogError("Error processing webhook: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook"})
		return
	}

	util.LogInfo("Webhook event type: %s", event.EventType)
	payment.HandleEvent(event)

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook processed successfully"})
}

// HealthzHandler reports process health and limiter occupancy.
func HealthzHandler(app *models.App, c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(app.StartTime)

	app.LimiterMutex.RLock()
	limiterCount := len(app.LimiterMap)
	app.LimiterMutex.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"env":             map[bool]string{true: "production", false: "development"}[app.IsProduction],
		"active_limiters": limiterCount,
		"memory_alloc_mb": m.Alloc / 1024 / 1024,
		"memory_sys_mb":   m.Sys / 1024 / 1024,
		"memory_gc_count": m.NumGC,
		"uptime":          util.FormatUptime(uptime),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
