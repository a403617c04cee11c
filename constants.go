package main

import "time"

type contextKey string

const (
	RoutePoemGenerate    = "/api/poem/generate"
	RouteOCRImage        = "/api/ocr/image"
	RouteCheckAccess     = "/api/payment/check-access"
	RouteSetAccessCookie = "/api/payment/set-access-cookie"
	RouteCreateCheckout  = "/api/payment/create-checkout"
	RouteDodoWebhook     = "/api/webhooks/dodo-payments"
	RouteHealthz         = "/healthz"
)

const (
	DefaultQuotaWindow    = 24 * time.Hour
	DefaultQuotaMax       = 3
	DefaultDebounceWindow = 10 * time.Second
)

const (
	requestIDKey contextKey = "request_id"
)
