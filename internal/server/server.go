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
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"approvalflow/internal/adapter"
	"approvalflow/internal/domain"
	"approvalflow/internal/engine"
	"approvalflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_vote"`
	Message string         `json:"message" example:"reviewer already voted on this node"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"node\":\"Supervisor Review\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Approvalflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
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
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Approvalflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkflows(group, cfg.Engine)
	registerNodes(group, cfg.Engine)
	registerReprints(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerInstances(group, cfg.Engine)
	registerMe(group)
	registerKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	var ee engine.Error
	if errors.As(err, &ee) {
		switch {
		case ee.Kind.IsAuthorization():
			return newAPIError(http.StatusForbidden, string(ee.Kind), ee.Message, nil)
		case ee.Kind.IsStateConflict():
			return newAPIError(http.StatusConflict, string(ee.Kind), ee.Message, nil)
		case ee.Kind.IsConfiguration():
			return newAPIError(http.StatusBadRequest, string(ee.Kind), ee.Message, nil)
		}
	}
	var de repo.DuplicateOrderError
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadRequest, "duplicate_order", err.Error(), map[string]any{
			"workflow_id": de.WorkflowID,
			"node_order":  de.Order,
		})
	}
	var se repo.StageInUseError
	if errors.As(err, &se) {
		return newAPIError(http.StatusConflict, "node_in_use", err.Error(), map[string]any{"node_id": se.StageID})
	}
	var ae adapter.Error
	if errors.As(err, &ae) {
		return newAPIError(http.StatusBadGateway, "adapter_failed", err.Error(), map[string]any{
			"request_id": ae.RequestID,
			"outcome":    ae.Outcome,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
	case http.StatusBadGateway:
		return "adapter_failed"
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
    <title>Approvalflow API Docs</title>
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

// optionalBoolParam implements huma.ParamWrapper/huma.ParamReactor so an
// optional boolean query parameter can be distinguished from an absent one;
// huma does not allow pointer types for path/query/header parameters.
type optionalBoolParam struct {
	Value bool
	IsSet bool
}

func (o *optionalBoolParam) Receiver() reflect.Value {
	return reflect.ValueOf(o).Elem().Field(0)
}

func (o *optionalBoolParam) OnParamSet(isSet bool, parsed any) {
	o.IsSet = isSet
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create workflow definition",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		d, err := e.Repo.CreateDefinition(ctx, input.Body.Name, desc)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflow definitions",
	}, func(ctx context.Context, input *struct {
		Active optionalBoolParam `query:"active"`
	}) (*struct {
		Body []WorkflowResponse `json:"body"`
	}, error) {
		var active *bool
		if input.Active.IsSet {
			active = &input.Active.Value
		}
		items, err := e.Repo.ListDefinitions(ctx, active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkflowResponse `json:"body"`
		}{Body: mapWorkflows(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Get workflow definition",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDefinition(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workflow",
		Method:      http.MethodPatch,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Update workflow definition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string                `path:"workflow_id"`
		Body       UpdateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		d, err := e.Repo.UpdateDefinition(ctx, input.WorkflowID, input.Body.Name, input.Body.Description, input.Body.IsActive)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-workflow",
		Method:      http.MethodDelete,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Delete workflow definition",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.Repo.DeleteDefinition(ctx, input.WorkflowID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-node",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/nodes",
		Summary:       "Add approval node to a workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string            `path:"workflow_id"`
		Body       CreateNodeRequest `json:"body"`
	}) (*struct {
		Body NodeResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Name) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if !domain.ValidQuorumPolicy(input.Body.ApprovalType) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "approval_type must be ALL or ANY", nil)
		}
		if input.Body.Order < 1 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "node_order must be >= 1", nil)
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		s, err := e.Repo.AddStage(ctx, input.WorkflowID, input.Body.Name, desc, input.Body.ApprovalType, input.Body.Order)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NodeResponse `json:"body"`
		}{Body: nodeResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-nodes",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/nodes",
		Summary:     "List workflow nodes in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body []NodeResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDefinition(ctx, input.WorkflowID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListStages(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []NodeResponse `json:"body"`
		}{Body: mapNodes(items)}, nil
	})
}

func registerNodes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-node",
		Method:      http.MethodGet,
		Path:        "/nodes/{node_id}",
		Summary:     "Get approval node",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
	}) (*struct {
		Body NodeResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetStage(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NodeResponse `json:"body"`
		}{Body: nodeResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-node",
		Method:      http.MethodPatch,
		Path:        "/nodes/{node_id}",
		Summary:     "Update approval node",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID string            `path:"node_id"`
		Body   UpdateNodeRequest `json:"body"`
	}) (*struct {
		Body NodeResponse `json:"body"`
	}, error) {
		if input.Body.ApprovalType != nil && !domain.ValidQuorumPolicy(*input.Body.ApprovalType) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "approval_type must be ALL or ANY", nil)
		}
		s, err := e.Repo.UpdateStage(ctx, input.NodeID, input.Body.Name, input.Body.Description, input.Body.ApprovalType)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Order != nil {
			if *input.Body.Order < 1 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "node_order must be >= 1", nil)
			}
			s, err = e.Repo.ReorderStage(ctx, input.NodeID, *input.Body.Order)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body NodeResponse `json:"body"`
		}{Body: nodeResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-node",
		Method:      http.MethodDelete,
		Path:        "/nodes/{node_id}",
		Summary:     "Delete approval node",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.Repo.DeleteStage(ctx, input.NodeID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-node-users",
		Method:      http.MethodPost,
		Path:        "/nodes/{node_id}/users",
		Summary:     "Replace the reviewer set of a node",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID string              `path:"node_id"`
		Body   SetNodeUsersRequest `json:"body"`
	}) (*struct {
		Body NodeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := e.Repo.GetStage(ctx, input.NodeID); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.SetReviewers(ctx, input.NodeID, input.Body.UserIDs); err != nil {
			return nil, handleError(err)
		}
		s, err := e.Repo.GetStage(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NodeResponse `json:"body"`
		}{Body: nodeResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-node-users",
		Method:      http.MethodGet,
		Path:        "/nodes/{node_id}/users",
		Summary:     "List node reviewers",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if _, err := e.Repo.GetStage(ctx, input.NodeID); err != nil {
			return nil, handleError(err)
		}
		users, err := e.Repo.ListReviewers(ctx, input.NodeID)
		if err != nil {
			return nil, handleError(err)
		}
		if users == nil {
			users = []string{}
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: users}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-node-user",
		Method:      http.MethodDelete,
		Path:        "/nodes/{node_id}/users/{user_id}",
		Summary:     "Remove one reviewer from a node",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NodeID string `path:"node_id"`
		UserID string `path:"user_id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if _, err := e.Repo.GetStage(ctx, input.NodeID); err != nil {
			return nil, handleError(err)
		}
		users, err := e.Repo.RemoveReviewer(ctx, input.NodeID, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		if users == nil {
			users = []string{}
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: users}, nil
	})
}

func registerReprints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-reprint",
		Method:        http.MethodPost,
		Path:          "/reprints",
		Summary:       "Create ticket-reprint request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateReprintRequest `json:"body"`
	}) (*struct {
		Body ReprintResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.TicketNo) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "ticket_no is required", nil)
		}
		requestedBy := ""
		if input.Body.RequestedBy != nil {
			requestedBy = *input.Body.RequestedBy
		}
		if requestedBy == "" {
			if p, ok := principalFromContext(ctx); ok {
				requestedBy = p.UserID
			}
		}
		if requestedBy == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "requested_by is required", nil)
		}
		reason := ""
		if input.Body.Reason != nil {
			reason = *input.Body.Reason
		}
		r, err := e.Repo.CreateReprintRequest(ctx, input.Body.TicketNo, reason, requestedBy)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReprintResponse `json:"body"`
		}{Body: reprintResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reprints",
		Method:      http.MethodGet,
		Path:        "/reprints",
		Summary:     "List ticket-reprint requests",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"PENDING,APPROVED,REJECTED"`
	}) (*struct {
		Body []ReprintResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListReprintRequests(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReprintResponse `json:"body"`
		}{Body: mapReprints(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reprint",
		Method:      http.MethodGet,
		Path:        "/reprints/{reprint_id}",
		Summary:     "Get ticket-reprint request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReprintID string `path:"reprint_id"`
	}) (*struct {
		Body ReprintResponse `json:"body"`
	}, error) {
		r, err := e.Repo.GetReprintRequest(ctx, input.ReprintID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReprintResponse `json:"body"`
		}{Body: reprintResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "init-reprint-workflow",
		Method:        http.MethodPost,
		Path:          "/reprints/{reprint_id}/workflow",
		Summary:       "Attach an approval workflow to a reprint request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ReprintID string              `path:"reprint_id"`
		Body      InitWorkflowRequest `json:"body"`
	}) (*struct {
		Body InstanceResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.WorkflowID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "workflow_id is required", nil)
		}
		if _, err := e.Repo.GetReprintRequest(ctx, input.ReprintID); err != nil {
			return nil, handleError(err)
		}
		actorID := ""
		if p, ok := principalFromContext(ctx); ok {
			actorID = p.UserID
		}
		in, err := e.Initialize(ctx, input.Body.WorkflowID, input.ReprintID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InstanceResponse `json:"body"`
		}{Body: instanceResponse(in)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-reprint",
		Method:      http.MethodPost,
		Path:        "/reprints/{reprint_id}/approve",
		Summary:     "Cast an approval vote on a reprint request",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ReprintID string      `path:"reprint_id"`
		Body      VoteRequest `json:"body"`
	}) (*struct {
		Body domain.VoteResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID := ""
		if input.Body.UserID != nil {
			userID = *input.Body.UserID
		}
		if userID == "" {
			if p, ok := principalFromContext(ctx); ok {
				userID = p.UserID
			}
		}
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		instance, statusErr := activeInstanceForRequest(ctx, e, input.ReprintID)
		if statusErr != nil {
			return nil, statusErr
		}
		comments := ""
		if input.Body.Comments != nil {
			comments = *input.Body.Comments
		}
		result, err := e.CastVote(ctx, instance.ID, userID, input.Body.Action, comments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.VoteResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reprint-approvals",
		Method:      http.MethodGet,
		Path:        "/reprints/{reprint_id}/approvals",
		Summary:     "Approval history for a reprint request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReprintID string `path:"reprint_id"`
	}) (*struct {
		Body engine.History `json:"body"`
	}, error) {
		instance, err := e.Repo.LatestInstanceForRequest(ctx, input.ReprintID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "no approval workflow initialized for this request", nil)
			}
			return nil, handleError(err)
		}
		h, err := e.GetHistory(ctx, instance.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.History `json:"body"`
		}{Body: h}, nil
	})
}

// activeInstanceForRequest resolves the single PENDING instance bound to a
// request, distinguishing "never initialized" from "already finalized".
func activeInstanceForRequest(ctx context.Context, e engine.Engine, requestID string) (domain.WorkflowInstance, huma.StatusError) {
	instance, err := e.Repo.ActiveInstanceForRequest(ctx, requestID)
	if err == nil {
		return instance, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.WorkflowInstance{}, handleError(err)
	}
	latest, lerr := e.Repo.LatestInstanceForRequest(ctx, requestID)
	if lerr == nil {
		return domain.WorkflowInstance{}, newAPIError(http.StatusConflict, "instance_not_pending",
			fmt.Sprintf("approval workflow for this request is already %s", latest.Status), nil)
	}
	if errors.Is(lerr, repo.ErrNotFound) {
		return domain.WorkflowInstance{}, newAPIError(http.StatusNotFound, "not_found", "no approval workflow initialized for this request", nil)
	}
	return domain.WorkflowInstance{}, handleError(lerr)
}

func registerApprovals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pending-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals/pending",
		Summary:     "Instances awaiting a reviewer's vote",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []engine.PendingApproval `json:"body"`
	}, error) {
		userID := input.UserID
		if userID == "" {
			if p, ok := principalFromContext(ctx); ok {
				userID = p.UserID
			}
		}
		items, err := e.ListPendingForReviewer(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.PendingApproval `json:"body"`
		}{Body: mapPending(items)}, nil
	})
}

func registerInstances(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-instance",
		Method:      http.MethodGet,
		Path:        "/instances/{instance_id}",
		Summary:     "Workflow instance with stage snapshots",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body engine.InstanceDetail `json:"body"`
	}, error) {
		detail, err := e.GetInstanceDetail(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.InstanceDetail `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "instance-history",
		Method:      http.MethodGet,
		Path:        "/instances/{instance_id}/history",
		Summary:     "Ordered audit trail for an instance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*struct {
		Body engine.History `json:"body"`
	}, error) {
		h, err := e.GetHistory(ctx, input.InstanceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.History `json:"body"`
		}{Body: h}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{UserID: p.UserID, Role: string(p.Role), Source: p.Source}}, nil
	})
}

func registerKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.UserID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		raw := "af_" + uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			UserID:  input.Body.UserID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(raw),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        stored.ID,
			UserID:    stored.UserID,
			Name:      stored.Name,
			Key:       raw, // shown once
			CreatedAt: stored.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys for a user",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		userID := input.UserID
		if userID == "" {
			if p, ok := principalFromContext(ctx); ok {
				userID = p.UserID
			}
		}
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		items, err := e.Repo.ListAPIKeys(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			out = append(out, APIKeyResponse{ID: k.ID, UserID: k.UserID, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{key_id}",
		Summary:     "Revoke an API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}
