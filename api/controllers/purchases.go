package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/examdesk/examdesk-backend/api/responses"
	"github.com/examdesk/examdesk-backend/api/validators"
	"github.com/examdesk/examdesk-backend/internal/purchases"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
)

type subscribeRequest struct {
	SubscriptionIDs []string `json:"subscription_ids" validate:"required,min=1"`
}

// Subscribe grants the caller the requested offers. Repeat calls return the
// existing grant.
func Subscribe(svc purchases.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := contextUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload subscribeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ids, err := parseUUIDs(payload.SubscriptionIDs, "subscription_ids")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Subscribe(r.Context(), userID, ids)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, subscribeResponseFromResult(result))
	}
}

// PurchaseList returns the caller's purchase history.
func PurchaseList(svc purchases.Coordinator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := contextUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		params := purchases.ListParams{
			UserID: userID,
			Cursor: query.Get("cursor"),
		}
		if raw := strings.TrimSpace(query.Get("status")); raw != "" {
			status, err := enums.ParsePurchaseStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid status"))
				return
			}
			params.Status = &status
		}
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		result, err := svc.ListPurchases(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]purchaseResponse, len(result.Items))
		for i := range result.Items {
			items[i] = purchaseResponseFromModel(&result.Items[i])
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}

type purchaseResponse struct {
	ID              uuid.UUID            `json:"id"`
	SubscriptionIDs []uuid.UUID          `json:"subscription_ids"`
	EntitlementIDs  []uuid.UUID          `json:"entitlement_ids,omitempty"`
	ActualPrice     decimal.Decimal      `json:"actual_price"`
	Status          enums.PurchaseStatus `json:"status"`
	CreatedDate     time.Time            `json:"created_date"`
}

func purchaseResponseFromModel(m *models.PurchaseRecord) purchaseResponse {
	return purchaseResponse{
		ID:              m.ID,
		SubscriptionIDs: m.SubscriptionIDs,
		EntitlementIDs:  m.EntitlementIDs,
		ActualPrice:     m.ActualPrice,
		Status:          m.Status,
		CreatedDate:     m.CreatedDate,
	}
}

type subscribeResponse struct {
	Record       *purchaseResponse     `json:"record,omitempty"`
	Entitlements []entitlementResponse `json:"entitlements"`
	Duplicate    bool                  `json:"duplicate"`
}

func subscribeResponseFromResult(result *purchases.SubscribeResult) subscribeResponse {
	resp := subscribeResponse{
		Entitlements: make([]entitlementResponse, len(result.Entitlements)),
		Duplicate:    result.Duplicate,
	}
	if result.Record != nil {
		record := purchaseResponseFromModel(result.Record)
		resp.Record = &record
	}
	for i := range result.Entitlements {
		resp.Entitlements[i] = entitlementResponseFromModel(&result.Entitlements[i])
	}
	return resp
}
