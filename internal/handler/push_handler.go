package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"Mansoor88-6/escort-alerts/internal/models"
	"Mansoor88-6/escort-alerts/internal/push"

	"go.uber.org/zap"
)

// SubscriptionRegistry stores browser and agent push registrations
type SubscriptionRegistry interface {
	Upsert(ctx context.Context, sub models.PushSubscription) (*models.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// PushDispatcher fans a message out to an audience
type PushDispatcher interface {
	Dispatch(ctx context.Context, req models.DispatchRequest) (*models.DispatchResult, error)
	Broadcast(ctx context.Context, b models.BroadcastRequest) (*models.DispatchResult, error)
}

type PushHandler struct {
	registry   SubscriptionRegistry
	dispatcher PushDispatcher
	publicKey  string
	logger     *zap.Logger
}

// NewPushHandler creates the push handler. publicKey is the VAPID application
// server key handed to browsers before they subscribe.
func NewPushHandler(registry SubscriptionRegistry, dispatcher PushDispatcher, publicKey string, logger *zap.Logger) *PushHandler {
	return &PushHandler{
		registry:   registry,
		dispatcher: dispatcher,
		publicKey:  publicKey,
		logger:     logger,
	}
}

func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.publicKey})
}

// Subscribe registers or refreshes a subscription keyed by endpoint
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var in push.SubscriptionInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.UserAgent == "" {
		in.UserAgent = r.UserAgent()
	}

	sub, err := push.BuildSubscription(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.registry.Upsert(r.Context(), sub)
	if err != nil {
		h.logger.Error("Failed to register push subscription", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register subscription")
		return
	}

	h.logger.Info("Push subscription registered",
		zap.Int64("subscription_id", stored.ID),
		zap.String("role", string(stored.Role)),
	)
	writeJSON(w, http.StatusCreated, stored)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimSpace(r.URL.Query().Get("endpoint"))
	if endpoint == "" {
		writeError(w, http.StatusBadRequest, "missing endpoint parameter")
		return
	}

	if err := h.registry.DeleteByEndpoint(r.Context(), endpoint); err != nil {
		h.logger.Error("Failed to remove push subscription", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req models.DispatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.dispatcher.Dispatch(r.Context(), req)
	h.respondDispatch(w, result, err)
}

func (h *PushHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req models.BroadcastRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.dispatcher.Broadcast(r.Context(), req)
	h.respondDispatch(w, result, err)
}

func (h *PushHandler) respondDispatch(w http.ResponseWriter, result *models.DispatchResult, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, push.ErrEmptyAudience),
		errors.Is(err, push.ErrInvalidBroadcast),
		errors.Is(err, push.ErrUnknownType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, push.ErrPushNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Push dispatch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dispatch failed")
	}
}
