package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk-backend/api/responses"
	"github.com/examdesk/examdesk-backend/api/validators"
	"github.com/examdesk/examdesk-backend/internal/adminops"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
)

type extendValidityRequest struct {
	Days int `json:"days" validate:"required,min=1"`
}

// EntitlementExtend adds days to one grant's validity window.
func EntitlementExtend(svc adminops.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "entitlementID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload extendValidityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		extended, err := svc.ExtendValidity(r.Context(), id, time.Duration(payload.Days)*24*time.Hour)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, entitlementResponseFromModel(extended))
	}
}

type bulkExtendRequest struct {
	EntitlementIDs []string `json:"entitlement_ids" validate:"required,min=1"`
	Days           int      `json:"days" validate:"required,min=1"`
}

// EntitlementBulkExtend applies the extension per grant and reports per-item
// outcomes.
func EntitlementBulkExtend(svc adminops.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload bulkExtendRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ids, err := parseUUIDs(payload.EntitlementIDs, "entitlement_ids")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.BulkExtendValidity(r.Context(), ids, time.Duration(payload.Days)*24*time.Hour)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, bulkExtendResponseFromResult(result))
	}
}

// AvailablePapers lists unclaimed catalog papers for offer authoring.
func AvailablePapers(svc adminops.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := adminops.AvailablePapersParams{
			SubCategory: query.Get("sub_category"),
			Search:      query.Get("search"),
		}
		if raw := strings.TrimSpace(query.Get("test_type")); raw != "" {
			testType, err := enums.ParseTestType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid test type"))
				return
			}
			params.TestType = &testType
		}
		if raw := strings.TrimSpace(query.Get("exclude_subscription_id")); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid exclude_subscription_id"))
				return
			}
			params.ExcludeSubscriptionID = &id
		}

		papers, err := svc.GetAvailablePapers(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"papers": papers})
	}
}

type bulkExtendFailureResponse struct {
	EntitlementID uuid.UUID `json:"entitlement_id"`
	Reason        string    `json:"reason"`
}

type bulkExtendResponse struct {
	Succeeded []uuid.UUID                 `json:"succeeded"`
	Failed    []bulkExtendFailureResponse `json:"failed"`
}

func bulkExtendResponseFromResult(result *adminops.BulkExtendResult) bulkExtendResponse {
	resp := bulkExtendResponse{
		Succeeded: result.Succeeded,
		Failed:    make([]bulkExtendFailureResponse, len(result.Failed)),
	}
	if resp.Succeeded == nil {
		resp.Succeeded = []uuid.UUID{}
	}
	for i, failure := range result.Failed {
		resp.Failed[i] = bulkExtendFailureResponse{
			EntitlementID: failure.EntitlementID,
			Reason:        failure.Reason,
		}
	}
	return resp
}
