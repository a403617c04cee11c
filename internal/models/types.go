package models

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sintgpt/internal/gemini"
	"sintgpt/internal/ocr"
	"sintgpt/internal/quota"
)

// PoemRequest is the validated body of a poem-generation call. Immutable once
// bound; lives only for the duration of one request.
type PoemRequest struct {
	Name               string `json:"name" binding:"required"`
	Present            string `json:"present"`
	RevealPresent      *bool  `json:"revealPresent"`
	FunFacts           string `json:"funFacts"`
	WrittenBy          string `json:"writtenBy"`
	WrittenForAudience string `json:"writtenForAudience"`
	Style              string `json:"style" binding:"required,oneof=funny classic ironic old-fashioned spicy"`
	RhymeScheme        string `json:"rhymeScheme" binding:"required,oneof=AABB ABAB ABBA Limerick"`
	Lines              int    `json:"lines" binding:"required,min=8,max=40"`
	Language           string `json:"language" binding:"required,oneof=dutch english"`
}

// ShouldRevealPresent defaults to true when the field is absent from the body.
func (r *PoemRequest) ShouldRevealPresent() bool {
	return r.RevealPresent == nil || *r.RevealPresent
}

// PoemStreamer is the streaming text-generation capability used by the poem
// handler. Satisfied by *gemini.Client; swapped for a fake in tests.
type PoemStreamer interface {
	GenerateStream(ctx context.Context, prompt string, opts gemini.GenerateOptions) (<-chan gemini.StreamEvent, <-chan error)
}

// DocumentProcessor turns one uploaded file into per-page analyses.
// Satisfied by *ocr.Processor.
type DocumentProcessor interface {
	Process(ctx context.Context, data []byte, contentType string) (*ocr.Result, error)
}

// CheckoutCreator produces a payment-provider redirect URL.
// Satisfied by *payment.Checkout.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, baseURL string) (string, error)
}

type RateLimiterWithTime struct {
	Limiter    *rate.Limiter
	LastAccess time.Time
}

// App carries process-wide configuration and shared state, wired once in main
// and passed explicitly to every handler.
type App struct {
	IsProduction bool
	StartTime    time.Time

	Quota    quota.Store
	Poems    PoemStreamer
	OCR      DocumentProcessor
	Checkout CheckoutCreator

	WebhookSecret string

	// Per-IP burst limiter guarding all mutating routes, separate from the
	// 24h poem quota.
	LimiterMap     map[string]*RateLimiterWithTime
	LimiterMutex   sync.RWMutex
	RateLimitRPS   int
	RateLimitBurst int
	RateLimiterTTL time.Duration

	StaticCacheAge time.Duration
}
