package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"axees/internal/engine"
	"axees/internal/repo"
	"axees/internal/status"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid offer status transition Accepted -> Rejected"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Axees negotiation API, plus a
// stop function that tears down the webhook dispatcher on shutdown.
func New(cfg Config) (http.Handler, func(), error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Axees Marketplace API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerOffers(group, cfg.Engine)
	registerNegotiation(group, cfg.Engine)
	registerDeals(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	stopWebhooks := startWebhookDispatcher(cfg.Engine)

	return router, stopWebhooks, nil
}

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe engine.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrTerminalStatus) || errors.Is(err, engine.ErrOfferCountered) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"),
		strings.Contains(lowered, "no longer be deleted"):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Axees API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "marketplace-status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Marketplace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountOffersByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		name := ""
		if e.Config != nil {
			name = e.Config.Marketplace.Name
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"marketplace":  name,
			"offer_counts": counts,
		}}, nil
	})
}

func registerOffers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-offer",
		Method:        http.MethodPost,
		Path:          "/offers",
		Summary:       "Create offer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOfferRequest `json:"body"`
	}) (*struct {
		Body OfferResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if role != status.RoleMarketer {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only marketers create offers", nil)
		}
		opts := engine.OfferCreateOptions{
			OfferName:  input.Body.OfferName,
			Amount:     input.Body.ProposedAmount,
			MarketerID: p.UserID,
			CreatorID:  input.Body.CreatorID,
			Draft:      input.Body.Draft,
			ActorID:    p.UserID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.DesiredReviewDate != nil {
			opts.ReviewDate = *input.Body.DesiredReviewDate
		}
		if input.Body.DesiredPostDate != nil {
			opts.PostDate = *input.Body.DesiredPostDate
		}
		if input.Body.Notes != nil {
			opts.Notes = *input.Body.Notes
		}
		for _, a := range input.Body.Attachments {
			opts.Attachments = append(opts.Attachments, domainAttachment(a))
		}
		o, err := e.CreateOffer(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferResponse `json:"body"`
		}{Body: offerResponse(o, role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/offers",
		Summary:     "List offers for the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status"`
		Limit           int    `query:"limit"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []OfferResponse `json:"body"`
	}, error) {
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.OfferFilters{
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		}
		// Each side only sees its own offers.
		if role == status.RoleMarketer {
			filters.MarketerID = p.UserID
		} else {
			filters.CreatorID = p.UserID
		}
		items, err := e.Repo.ListOffers(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []OfferResponse `json:"body"`
		}{Body: mapOffers(items, role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-offer",
		Method:      http.MethodGet,
		Path:        "/offers/{offer_id}",
		Summary:     "Offer detail with merged counter terms and action row",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body OfferDetailResponse `json:"body"`
	}, error) {
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		detail, err := e.OfferDetail(ctx, input.OfferID, p.UserID, role)
		if err != nil {
			return nil, handleError(err)
		}
		if p.UserID != detail.Offer.MarketerID && p.UserID != detail.Offer.CreatorID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "offer belongs to another negotiation", nil)
		}
		return &struct {
			Body OfferDetailResponse `json:"body"`
		}{Body: detailResponse(detail, role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-offer",
		Method:      http.MethodDelete,
		Path:        "/offers/{offer_id}",
		Summary:     "Delete an unanswered offer",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct{}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Delete(ctx, input.OfferID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerNegotiation(api huma.API, e engine.Engine) {
	type offerPath struct {
		OfferID string `path:"offer_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "mark-offer-viewed",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/viewed",
		Summary:     "Record that the caller has seen the current terms",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *offerPath) (*struct {
		Body OfferResponse `json:"body"`
	}, error) {
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.MarkViewed(ctx, input.OfferID, role, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferResponse `json:"body"`
		}{Body: offerResponse(o, role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/accept",
		Summary:     "Accept the current terms and create the deal",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *offerPath) (*struct {
		Body AcceptOfferResponse `json:"body"`
	}, error) {
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Accept(ctx, input.OfferID, p.UserID, false)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptOfferResponse `json:"body"`
		}{Body: AcceptOfferResponse{
			Offer:           offerResponse(res.Offer, role),
			Deal:            dealResponse(res.Deal),
			PaymentNeeded:   res.PaymentNeeded,
			RequiredPayment: res.RequiredPayment,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/reject",
		Summary:     "Reject the offer",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OfferID string             `path:"offer_id"`
		Body    RejectOfferRequest `json:"body"`
	}) (*struct {
		Body OfferResponse `json:"body"`
	}, error) {
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.Reject(ctx, input.OfferID, p.UserID, input.Body.Reason, false)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferResponse `json:"body"`
		}{Body: offerResponse(o, role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "counter-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/counter",
		Summary:     "Propose replacement terms",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OfferID string              `path:"offer_id"`
		Body    CounterOfferRequest `json:"body"`
	}) (*struct {
		Body OfferDetailResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, _, err := e.Counter(ctx, engine.CounterOptions{
			OfferID:    input.OfferID,
			ActorID:    p.UserID,
			Amount:     input.Body.Amount,
			ReviewDate: input.Body.ReviewDate,
			PostDate:   input.Body.PostDate,
			Notes:      input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		detail, err := e.OfferDetail(ctx, input.OfferID, p.UserID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferDetailResponse `json:"body"`
		}{Body: detailResponse(detail, role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/cancel",
		Summary:     "Withdraw a live offer",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *offerPath) (*struct {
		Body OfferResponse `json:"body"`
	}, error) {
		p, role, authErr := requireRole(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.Cancel(ctx, input.OfferID, p.UserID, false)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OfferResponse `json:"body"`
		}{Body: offerResponse(o, role)}, nil
	})
}

func registerDeals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-offer-deal",
		Method:      http.MethodGet,
		Path:        "/offers/{offer_id}/deal",
		Summary:     "Deal created from an accepted offer",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body DealResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		deal, err := e.Repo.GetDealByOffer(ctx, input.OfferID)
		if err != nil {
			return nil, handleError(err)
		}
		if p.UserID != deal.MarketerID && p.UserID != deal.CreatorID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "deal belongs to another negotiation", nil)
		}
		return &struct {
			Body DealResponse `json:"body"`
		}{Body: dealResponse(deal)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-offer-events",
		Method:      http.MethodGet,
		Path:        "/offers/{offer_id}/events",
		Summary:     "Event history for one offer",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.Repo.GetOffer(ctx, input.OfferID)
		if err != nil {
			return nil, handleError(err)
		}
		if p.UserID != o.MarketerID && p.UserID != o.CreatorID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "offer belongs to another negotiation", nil)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, "", "offer", o.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Negotiation event log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
