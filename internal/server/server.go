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

	"permitflow/internal/engine"
	"permitflow/internal/notify"
	"permitflow/internal/repo"
	"permitflow/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Router   notify.Router
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stale_state"`
	Message string         `json:"message" example:"application already resolved"`
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

// New returns an HTTP handler exposing the Permitflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
			// Schema/request validation errors surface as 400 validation_error.
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
	hcfg := huma.DefaultConfig("Permitflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerApplications(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerMessages(group, cfg.Engine, cfg.Router)
	registerLogs(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Engine, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

// handleError maps domain errors onto the HTTP envelope. Storage failures
// stay opaque 500s.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve workflow.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_error", err.Error(), nil)
	}
	var ae workflow.AuthorizationError
	if errors.As(err, &ae) {
		details := map[string]any{"role": ae.Role}
		if ae.RequiredRole != "" {
			details["required_role"] = ae.RequiredRole
		}
		if ae.Stage != 0 {
			details["stage"] = ae.Stage
		}
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), details)
	}
	var ste workflow.StaleStateError
	if errors.As(err, &ste) {
		return newAPIError(http.StatusConflict, "stale_state", err.Error(), map[string]any{
			"current_stage":  ste.Stage,
			"current_status": ste.Status,
		})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func errorBody(err error) *apiErrorBody {
	if err == nil {
		return nil
	}
	var ae *apiError
	if errors.As(handleError(err), &ae) {
		body := ae.Body
		return &body
	}
	return &apiErrorBody{Code: "internal_error", Message: err.Error()}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "stale_state"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	open := map[string]bool{
		joinPath(basePath, "health"):         true,
		joinPath(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func joinPath(basePath, p string) string {
	joined := path.Join(basePath, p)
	if !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return joined
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Permitflow API Docs</title>
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

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-application",
		Method:        http.MethodPost,
		Path:          "/applications",
		Summary:       "Create application",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ApplicationDetailsRequest `json:"body"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateApplication(ctx, actor, createOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "List applications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" enum:",unsubmitted,submitted,under_review,approved,rejected"`
		Stage     *int   `query:"stage" minimum:"0" maximum:"4"`
		CreatedBy string `query:"created_by"`
		Search    string `query:"search"`
	}) (*struct {
		Body []ApplicationResponse `json:"body"`
	}, error) {
		if _, authErr := actingUser(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListApplications(ctx, repo.ApplicationFilter{
			Status:    input.Status,
			Stage:     input.Stage,
			CreatedBy: input.CreatedBy,
			Search:    input.Search,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []ApplicationResponse{}
		}
		return &struct {
			Body []ApplicationResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}",
		Summary:     "Get application",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		if _, authErr := actingUser(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetApplication(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-application",
		Method:      http.MethodPatch,
		Path:        "/applications/{id}",
		Summary:     "Update application details",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body ApplicationDetailsRequest `json:"body"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateDetails(ctx, actor, input.ID, createOptions(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/submit",
		Summary:     "Submit application for review",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Submit(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: a}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "decide-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/decision",
		Summary:     "Record a review decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Transition(ctx, actor, engine.TransitionOptions{
			ApplicationID: input.ID,
			Decision:      input.Body.Decision,
			Comment:       input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-applications-batch",
		Method:      http.MethodPost,
		Path:        "/applications/decisions",
		Summary:     "Record the same decision on several applications",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body BatchDecisionRequest `json:"body"`
	}) (*struct {
		Body BatchDecisionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		if len(input.Body.ApplicationIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "application_ids is required", nil)
		}
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		results := e.TransitionBatch(ctx, actor, input.Body.ApplicationIDs, input.Body.Decision, input.Body.Comment)
		resp := BatchDecisionResponse{Results: make([]BatchDecisionItem, 0, len(results))}
		for _, res := range results {
			item := BatchDecisionItem{ApplicationID: res.ApplicationID}
			if res.Err != nil {
				item.Error = errorBody(res.Err)
			} else {
				a := res.Application
				item.Application = &a
			}
			resp.Results = append(resp.Results, item)
		}
		return &struct {
			Body BatchDecisionResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/comments",
		Summary:     "List application comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		if _, authErr := actingUser(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCommentsByApplication(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []CommentResponse{}
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/comments",
		Summary:       "Add a workflow comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AddCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, actor, input.ID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "amend-comment",
		Method:      http.MethodPost,
		Path:        "/comments/{id}/amend",
		Summary:     "Replace a comment's text",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body AmendCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AmendComment(ctx, actor, input.ID, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: c}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine, rt notify.Router) {
	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/messages",
		Summary:       "Send a message or broadcast",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SendMessageRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		opts := notify.SendOptions{
			Subject: input.Body.Subject,
			Content: input.Body.Content,
		}
		// A message without a receiver is a broadcast; visibility is derived
		// here, never taken from the caller.
		if input.Body.ReceiverID != nil && *input.Body.ReceiverID != "" {
			opts.ReceiverID = *input.Body.ReceiverID
		} else {
			opts.Broadcast = true
		}
		m, err := rt.Send(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/messages",
		Summary:     "List messages visible to the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Public bool `query:"public"`
	}) (*struct {
		Body []MessageResponse `json:"body"`
	}, error) {
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		items, err := rt.GetVisible(ctx, actor.ID, input.Public)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []MessageResponse{}
		}
		return &struct {
			Body []MessageResponse `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/messages/unread-count",
		Summary:     "Count unread directed messages",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UnreadCountResponse `json:"body"`
	}, error) {
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		n, err := rt.UnreadCount(ctx, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnreadCountResponse `json:"body"`
		}{Body: UnreadCountResponse{Count: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-message-read",
		Method:      http.MethodPost,
		Path:        "/messages/{id}/read",
		Summary:     "Mark a directed message read",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		actor, authErr := actingUser(ctx, e.Repo)
		if authErr != nil {
			return nil, authErr
		}
		if err := rt.MarkRead(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.GetMessage(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: m}, nil
	})
}

func registerLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-activity-logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "List recent activity log entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ApplicationID string `query:"application_id"`
		Limit         int    `query:"limit" default:"100"`
	}) (*struct {
		Body []ActivityLogResponse `json:"body"`
	}, error) {
		if _, authErr := actingUser(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListActivityLogs(ctx, input.ApplicationID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []ActivityLogResponse{}
		}
		return &struct {
			Body []ActivityLogResponse `json:"body"`
		}{Body: items}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:",permitting_officer,chairperson,catchment_manager,catchment_chairperson,permit_supervisor,ict"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, authErr := actingUser(ctx, e.Repo); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListUsers(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID: p.UserID,
			Role:   p.Role,
			Source: p.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "body required", nil)
		}
		username := strings.TrimSpace(input.Body.Username)
		if username == "" {
			return nil, newAPIError(http.StatusBadRequest, "validation_error", "username is required", nil)
		}
		u, err := e.Repo.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, u.ID, u.Role)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
