package server

import (
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

	"rankarena/internal/domain"
	"rankarena/internal/engine"
	"rankarena/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"task_id\":\"b2f7\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Rankarena API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	hcfg := huma.DefaultConfig("Rankarena API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(router, group)
	registerRank(group, cfg.Engine)
	registerBatch(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerProgressSocket(router, basePath, cfg.Engine.Progress)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var fe engine.TaskFailedError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusInternalServerError, "task_failed", fe.Message, map[string]any{"task_id": fe.TaskID})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "required"),
		strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "duplicate"),
		strings.Contains(lowered, "must be"),
		strings.Contains(lowered, "unknown task type"):
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
	case http.StatusAccepted:
		return "still_processing"
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Rankarena API Docs</title>
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
  </body>
</html>`, specURL)
}

func registerHealth(r chi.Router, api huma.API) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok"}`)
	})
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

func registerRank(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "rank",
		Method:      http.MethodPost,
		Path:        "/rank",
		Summary:     "Rank candidates for one task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RankRequest `json:"body"`
	}) (*struct {
		Body RankResponse `json:"body"`
	}, error) {
		res, err := e.RankOnce(ctx, engine.RankRequest{
			TaskDescription: input.Body.TaskDescription,
			Candidates:      candidatesFromRequest(input.Body.Candidates),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RankResponse `json:"body"`
		}{Body: rankResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rank-urls",
		Method:      http.MethodPost,
		Path:        "/rank/urls",
		Summary:     "Rank web pages for one task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body URLRankRequest `json:"body"`
	}) (*struct {
		Body RankResponse `json:"body"`
	}, error) {
		res, err := e.RankURLs(ctx, engine.URLRankRequest{
			TaskDescription: input.Body.TaskDescription,
			URLs:            input.Body.URLs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RankResponse `json:"body"`
		}{Body: rankResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "rank-async",
		Method:        http.MethodPost,
		Path:          "/rank/async",
		Summary:       "Submit an async ranking task",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AsyncRankRequest `json:"body"`
	}) (*struct {
		Body TaskSubmitResponse `json:"body"`
	}, error) {
		t, err := e.SubmitTask(ctx, domain.TaskTypeRank, engine.RankRequest{
			TaskDescription: input.Body.TaskDescription,
			Candidates:      candidatesFromRequest(input.Body.Candidates),
		}, input.Body.WebhookURL)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskSubmitResponse `json:"body"`
		}{Body: submitResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "rank-urls-async",
		Method:        http.MethodPost,
		Path:          "/rank/urls/async",
		Summary:       "Submit an async URL ranking task",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AsyncURLRankRequest `json:"body"`
	}) (*struct {
		Body TaskSubmitResponse `json:"body"`
	}, error) {
		t, err := e.SubmitTask(ctx, domain.TaskTypeRankURLs, engine.URLRankRequest{
			TaskDescription: input.Body.TaskDescription,
			URLs:            input.Body.URLs,
		}, input.Body.WebhookURL)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskSubmitResponse `json:"body"`
		}{Body: submitResponse(t)}, nil
	})
}

func registerBatch(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-scenarios",
		Method:      http.MethodPost,
		Path:        "/batch/generate-scenarios",
		Summary:     "Generate test scenarios for a candidate set",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body GenerateScenariosRequest `json:"body"`
	}) (*struct {
		Body ScenarioListResponse `json:"body"`
	}, error) {
		scenarios, err := e.GenerateScenarios(ctx, candidatesFromRequest(input.Body.Candidates), input.Body.NumScenarios, input.Body.CustomQuery)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScenarioListResponse `json:"body"`
		}{Body: scenarioListResponse(scenarios)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-run",
		Method:      http.MethodPost,
		Path:        "/batch/run",
		Summary:     "Run a batch of adversarial test scenarios",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body BatchRunRequest `json:"body"`
	}) (*struct {
		Body BatchRunResponse `json:"body"`
	}, error) {
		res, err := e.RunBatch(ctx, batchRunRequest(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchRunResponse `json:"body"`
		}{Body: batchRunResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "batch-run-async",
		Method:        http.MethodPost,
		Path:          "/batch/run/async",
		Summary:       "Submit an async batch run",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body AsyncBatchRunRequest `json:"body"`
	}) (*struct {
		Body TaskSubmitResponse `json:"body"`
	}, error) {
		t, err := e.SubmitTask(ctx, domain.TaskTypeBatchRun, batchRunRequest(input.Body.BatchRunRequest), input.Body.WebhookURL)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskSubmitResponse `json:"body"`
		}{Body: submitResponse(t)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.PollTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-result",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/result",
		Summary:     "Get task result",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Status int
		Body   TaskResultResponse `json:"body"`
	}, error) {
		result, err := e.FetchResult(ctx, input.TaskID)
		if errors.Is(err, engine.ErrStillProcessing) {
			return &struct {
				Status int
				Body   TaskResultResponse `json:"body"`
			}{
				Status: http.StatusAccepted,
				Body:   TaskResultResponse{TaskID: input.TaskID, Status: "still_processing"},
			}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Status int
			Body   TaskResultResponse `json:"body"`
		}{
			Status: http.StatusOK,
			Body: TaskResultResponse{
				TaskID: input.TaskID,
				Status: domain.TaskCompleted,
				Result: json.RawMessage(result),
			},
		}, nil
	})
}
