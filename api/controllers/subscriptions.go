package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/examdesk/examdesk-backend/api/responses"
	"github.com/examdesk/examdesk-backend/api/validators"
	"github.com/examdesk/examdesk-backend/internal/subscriptions"
	"github.com/examdesk/examdesk-backend/pkg/db/models"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	pkgerrors "github.com/examdesk/examdesk-backend/pkg/errors"
	"github.com/examdesk/examdesk-backend/pkg/logger"
)

type subscriptionCreateRequest struct {
	Name             string   `json:"name" validate:"required"`
	Description      string   `json:"description"`
	PaperType        string   `json:"paper_type" validate:"required"`
	PaperCategory    string   `json:"paper_category" validate:"required"`
	PaperSubCategory string   `json:"paper_sub_category"`
	TestType         string   `json:"test_type" validate:"required"`
	SubscriptionType string   `json:"subscription_type" validate:"required"`
	PaperIDs         []string `json:"paper_ids"`
	Price            string   `json:"price" validate:"required"`
}

func (r subscriptionCreateRequest) toInput() (subscriptions.CreateOfferInput, error) {
	paperType, err := enums.ParsePaperType(strings.TrimSpace(r.PaperType))
	if err != nil {
		return subscriptions.CreateOfferInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid paper type")
	}
	testType, err := enums.ParseTestType(strings.TrimSpace(r.TestType))
	if err != nil {
		return subscriptions.CreateOfferInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid test type")
	}
	subType, err := enums.ParseSubscriptionType(strings.TrimSpace(r.SubscriptionType))
	if err != nil {
		return subscriptions.CreateOfferInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid subscription type")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
	if err != nil {
		return subscriptions.CreateOfferInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price")
	}
	paperIDs, err := parseUUIDs(r.PaperIDs, "paper_ids")
	if err != nil {
		return subscriptions.CreateOfferInput{}, err
	}

	return subscriptions.CreateOfferInput{
		Name:             strings.TrimSpace(r.Name),
		Description:      r.Description,
		PaperType:        paperType,
		PaperCategory:    strings.TrimSpace(r.PaperCategory),
		PaperSubCategory: strings.TrimSpace(r.PaperSubCategory),
		TestType:         testType,
		SubscriptionType: subType,
		PaperIDs:         paperIDs,
		Price:            price,
	}, nil
}

// SubscriptionCreate handles drafting a new offer.
func SubscriptionCreate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload subscriptionCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.CreateOffer(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, subscriptionResponseFromModel(created))
	}
}

type subscriptionUpdateRequest struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	PaperIDs    []string `json:"paper_ids"`
	Price       *string  `json:"price"`
}

func (r subscriptionUpdateRequest) toInput() (subscriptions.UpdateOfferInput, error) {
	input := subscriptions.UpdateOfferInput{
		Name:        r.Name,
		Description: r.Description,
	}
	if r.PaperIDs != nil {
		paperIDs, err := parseUUIDs(r.PaperIDs, "paper_ids")
		if err != nil {
			return subscriptions.UpdateOfferInput{}, err
		}
		input.PaperIDs = paperIDs
	}
	if r.Price != nil {
		price, err := decimal.NewFromString(strings.TrimSpace(*r.Price))
		if err != nil {
			return subscriptions.UpdateOfferInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price")
		}
		input.Price = &price
	}
	return input, nil
}

// SubscriptionUpdate handles draft-only content edits.
func SubscriptionUpdate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "subscriptionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload subscriptionUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.UpdateOffer(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(updated))
	}
}

// SubscriptionActivate moves a draft offer to active.
func SubscriptionActivate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "subscriptionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		activated, err := svc.ActivateOffer(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(activated))
	}
}

// SubscriptionDeactivate stops new sales of an offer. With force=true any
// live grants are queued for revocation.
func SubscriptionDeactivate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "subscriptionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		force := strings.EqualFold(r.URL.Query().Get("force"), "true")

		deactivated, err := svc.DeactivateOffer(r.Context(), id, force)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(deactivated))
	}
}

// SubscriptionGet returns one offer.
func SubscriptionGet(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "subscriptionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.GetOffer(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionResponseFromModel(sub))
	}
}

// SubscriptionList returns a cursor-paginated page of offers.
func SubscriptionList(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := subscriptions.ListParams{
			PaperCategory: query.Get("paper_category"),
			Cursor:        query.Get("cursor"),
		}
		if raw := strings.TrimSpace(query.Get("state")); raw != "" {
			state, err := enums.ParseSubscriptionState(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid state"))
				return
			}
			params.State = &state
		}
		if raw := strings.TrimSpace(query.Get("test_type")); raw != "" {
			testType, err := enums.ParseTestType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid test type"))
				return
			}
			params.TestType = &testType
		}
		if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		result, err := svc.ListOffers(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]subscriptionResponse, len(result.Items))
		for i := range result.Items {
			items[i] = subscriptionResponseFromModel(&result.Items[i])
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}

type subscriptionResponse struct {
	ID               uuid.UUID               `json:"id"`
	Name             string                  `json:"name"`
	Description      string                  `json:"description"`
	PaperType        enums.PaperType         `json:"paper_type"`
	PaperCategory    string                  `json:"paper_category"`
	PaperSubCategory string                  `json:"paper_sub_category,omitempty"`
	TestType         enums.TestType          `json:"test_type"`
	SubscriptionType enums.SubscriptionType  `json:"subscription_type"`
	PaperIDs         []uuid.UUID             `json:"paper_ids"`
	State            enums.SubscriptionState `json:"state"`
	AmendmentNo      int                     `json:"amendment_no"`
	Price            decimal.Decimal         `json:"price"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

func subscriptionResponseFromModel(m *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:               m.ID,
		Name:             m.Name,
		Description:      m.Description,
		PaperType:        m.PaperType,
		PaperCategory:    m.PaperCategory,
		PaperSubCategory: m.PaperSubCategory,
		TestType:         m.TestType,
		SubscriptionType: m.SubscriptionType,
		PaperIDs:         m.PaperIDs,
		State:            m.State,
		AmendmentNo:      m.AmendmentNo,
		Price:            m.Price,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

func parseUUIDs(raw []string, field string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(strings.TrimSpace(value))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+field+" entry")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
