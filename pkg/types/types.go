package types

import "github.com/wagate/server/internal/session"

// Common response types

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Auth types

type TokenRequest struct {
	AccessKey string `json:"accessKey" binding:"required"`
}

type TokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

// Session types

type StartSessionRequest struct {
	WebhookURL string `json:"webhookUrl"`
}

type SessionSummary struct {
	ID         string         `json:"id"`
	Status     session.Status `json:"status"`
	WebhookURL string         `json:"webhookUrl,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
}

type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

type SessionStatusResponse struct {
	ID       string                 `json:"id"`
	Loaded   bool                   `json:"loaded"`
	Status   session.Status         `json:"status,omitempty"`
	Liveness session.LivenessResult `json:"liveness"`
}

type QRResponse struct {
	ID string               `json:"id"`
	QR *session.QRChallenge `json:"qr"`
}

type FlushRequest struct {
	OnlyInactive bool `json:"onlyInactive"`
}
