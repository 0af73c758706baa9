package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/api/middleware"
	"github.com/examdesk/examdesk-backend/api/responses"
	"github.com/examdesk/examdesk-backend/internal/entitlements"
	"github.com/examdesk/examdesk-backend/pkg/catalog"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
)

// EntitlementResolve answers which papers the caller can access.
func EntitlementResolve(svc entitlements.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := contextUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		paperType, err := enums.ParsePaperType(strings.TrimSpace(query.Get("paper_type")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid paper type"))
			return
		}

		params := entitlements.ResolveParams{
			UserID:           userID,
			PaperType:        paperType,
			PaperCategory:    query.Get("paper_category"),
			PaperSubCategory: query.Get("paper_sub_category"),
		}
		if raw := strings.TrimSpace(query.Get("test_type")); raw != "" {
			testType, err := enums.ParseTestType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid test type"))
				return
			}
			params.TestType = &testType
		}
		if raw := strings.TrimSpace(query.Get("as_of")); raw != "" {
			asOf, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid as_of"))
				return
			}
			params.AsOf = &asOf
		}

		result, err := svc.Resolve(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, resolveResponseFromResult(result))
	}
}

// EntitlementList returns the caller's grant history.
func EntitlementList(svc entitlements.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := contextUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		params := entitlements.ListGrantsParams{
			UserID:     userID,
			ActiveOnly: strings.EqualFold(query.Get("active_only"), "true"),
			Cursor:     query.Get("cursor"),
		}
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		result, err := svc.ListGrants(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]entitlementResponse, len(result.Items))
		for i := range result.Items {
			items[i] = entitlementResponseFromModel(&result.Items[i])
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}

type entitlementResponse struct {
	ID              uuid.UUID             `json:"id"`
	SubscriptionID  *uuid.UUID            `json:"subscription_id,omitempty"`
	EntitlementType enums.EntitlementType `json:"entitlement_type"`
	PaperType       enums.PaperType       `json:"paper_type"`
	PaperCategory   string                `json:"paper_category,omitempty"`
	TestType        enums.TestType        `json:"test_type,omitempty"`
	PaperIDs        []uuid.UUID           `json:"paper_ids,omitempty"`
	CreatedDate     time.Time             `json:"created_date"`
	Validity        time.Time             `json:"validity"`
	Active          bool                  `json:"active"`
}

func entitlementResponseFromModel(m *models.UserEntitlement) entitlementResponse {
	return entitlementResponse{
		ID:              m.ID,
		SubscriptionID:  m.SubscriptionID,
		EntitlementType: m.EntitlementType,
		PaperType:       m.PaperType,
		PaperCategory:   m.PaperCategory,
		TestType:        m.TestType,
		PaperIDs:        m.PaperIDs,
		CreatedDate:     m.CreatedDate,
		Validity:        m.Validity,
		Active:          m.Active,
	}
}

type resolveResponse struct {
	Entitlements []entitlementResponse `json:"entitlements"`
	PaperIDs     []uuid.UUID           `json:"paper_ids"`
	Papers       []catalog.Paper       `json:"papers,omitempty"`
}

func resolveResponseFromResult(result *entitlements.ResolveResult) resolveResponse {
	resp := resolveResponse{
		Entitlements: make([]entitlementResponse, len(result.Entitlements)),
		PaperIDs:     result.PaperIDs,
		Papers:       result.Papers,
	}
	if resp.PaperIDs == nil {
		resp.PaperIDs = []uuid.UUID{}
	}
	for i := range result.Entitlements {
		resp.Entitlements[i] = entitlementResponseFromModel(&result.Entitlements[i])
	}
	return resp
}

func contextUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return id, nil
}
