package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/JustVic19/Payouts-sub000/api"
	apperrors "github.com/JustVic19/Payouts-sub000/internal/pkg/errors"
	"github.com/JustVic19/Payouts-sub000/internal/pkg/logger"
)

const (
	codeOpenAPIRoute    = "OPENAPI_ROUTE_INVALID"
	codeOpenAPIResponse = "OPENAPI_RESPONSE_INVALID"
)

// MustOpenAPIValidator creates an OpenAPI runtime validator middleware and panics on setup failure.
func MustOpenAPIValidator(basePath string) gin.HandlerFunc {
	mw, err := NewOpenAPIValidator(basePath)
	if err != nil {
		panic(fmt.Sprintf("init openapi validator: %v", err))
	}
	return mw
}

// NewOpenAPIValidator validates requests and responses against the embedded
// OpenAPI contract. Paths the contract does not describe pass through.
func NewOpenAPIValidator(basePath string) (gin.HandlerFunc, error) {
	doc, err := api.Load()
	if err != nil {
		return nil, fmt.Errorf("load openapi contract: %w", err)
	}

	// Routes are matched on the path below basePath.
	doc.Servers = nil
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create openapi router: %w", err)
	}

	v := &contractValidator{
		router:   router,
		basePath: normalizeBasePath(basePath),
		// JWT and RBAC run as their own middleware.
		options: &openapi3filter.Options{
			AuthenticationFunc: func(context.Context, *openapi3filter.AuthenticationInput) error { return nil },
		},
	}
	return v.handle, nil
}

type contractValidator struct {
	router   routers.Router
	basePath string
	options  *openapi3filter.Options
}

func (v *contractValidator) handle(c *gin.Context) {
	route, pathParams, err := v.findRoute(c.Request)
	switch {
	case isPathNotFoundError(err):
		c.Next()
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": codeOpenAPIRoute, "message": err.Error()})
		return
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    c.Request,
		PathParams: pathParams,
		Route:      route,
		Options:    v.options,
	}
	if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest,
			apperrors.BadRequest(apperrors.CodeValidationFailed, "request does not conform to the API contract").
				WithFieldErrors(requestFieldErrors(err)).
				WithParams(map[string]interface{}{"detail": err.Error()}))
		return
	}

	recorder := &responseRecorder{ResponseWriter: c.Writer}
	c.Writer = recorder
	c.Next()

	v.checkResponse(c, input, recorder)
	if err := recorder.flush(); err != nil {
		logger.Warn("failed to flush buffered response",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
}

// findRoute matches the request path as is, then with basePath stripped.
// The request URL is left unchanged.
func (v *contractValidator) findRoute(req *http.Request) (*routers.Route, map[string]string, error) {
	path, rawPath := req.URL.Path, req.URL.RawPath
	defer func() { req.URL.Path, req.URL.RawPath = path, rawPath }()

	candidates := [][2]string{{path, rawPath}}
	stripped := normalizeValidationPath(v.basePath, path)
	strippedRaw := rawPath
	if rawPath != "" {
		strippedRaw = normalizeValidationPath(v.basePath, rawPath)
	}
	if stripped != path || strippedRaw != rawPath {
		candidates = append(candidates, [2]string{stripped, strippedRaw})
	}

	var lastErr error
	for _, candidate := range candidates {
		req.URL.Path, req.URL.RawPath = candidate[0], candidate[1]
		route, params, err := v.router.FindRoute(req)
		if err == nil {
			return route, params, nil
		}
		if !isPathNotFoundError(err) {
			return nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

// checkResponse replaces a non-conforming response with a 500.
func (v *contractValidator) checkResponse(c *gin.Context, input *openapi3filter.RequestValidationInput, recorder *responseRecorder) {
	out := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 recorder.Status(),
		Header:                 recorder.Header().Clone(),
		Options:                v.options,
	}
	if recorder.body.Len() > 0 {
		out.SetBodyBytes(recorder.body.Bytes())
	}

	err := openapi3filter.ValidateResponse(c.Request.Context(), out)
	if err == nil {
		return
	}
	logger.Error("OpenAPI response validation failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", recorder.Status()),
		zap.Error(err),
	)
	recorder.replace(http.StatusInternalServerError, gin.H{
		"code":    codeOpenAPIResponse,
		"message": "response does not conform to OpenAPI contract",
	})
}

func normalizeBasePath(basePath string) string {
	basePath = strings.Trim(strings.TrimSpace(basePath), "/")
	if basePath == "" {
		return ""
	}
	return "/" + basePath
}

func normalizeValidationPath(basePath, path string) string {
	switch {
	case basePath == "" && path == "":
		return "/"
	case basePath == "":
		return path
	case path == basePath:
		return "/"
	case strings.HasPrefix(path, basePath+"/"):
		return strings.TrimPrefix(path, basePath)
	default:
		return path
	}
}

func isPathNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, routers.ErrPathNotFound) {
		return true
	}
	var routeErr *routers.RouteError
	if errors.As(err, &routeErr) {
		return routeErr.Reason == routers.ErrPathNotFound.Error()
	}
	return strings.Contains(err.Error(), routers.ErrPathNotFound.Error())
}

// requestFieldErrors names the offending parameter or body for clients.
func requestFieldErrors(err error) []apperrors.FieldError {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return nil
	}
	if reqErr.Parameter != nil {
		return []apperrors.FieldError{{Field: reqErr.Parameter.Name, Code: "INVALID_PARAMETER", Message: reqErr.Reason}}
	}
	if reqErr.RequestBody == nil {
		return nil
	}
	field := "body"
	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		if ptr := schemaErr.JSONPointer(); len(ptr) > 0 {
			field = strings.Join(ptr, ".")
		}
	}
	return []apperrors.FieldError{{Field: field, Code: "INVALID_BODY", Message: reqErr.Reason}}
}

// responseRecorder holds the response back until it has been validated.
// Headers go straight to the wrapped writer; status and body are buffered.
type responseRecorder struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int // zero until a status is chosen
}

func (w *responseRecorder) WriteHeader(code int) {
	if w.status == 0 && code > 0 {
		w.status = code
	}
}

func (w *responseRecorder) WriteHeaderNow() {
	w.WriteHeader(http.StatusOK)
}

func (w *responseRecorder) Write(data []byte) (int, error) {
	w.WriteHeaderNow()
	return w.body.Write(data)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.WriteHeaderNow()
	return w.body.WriteString(s)
}

func (w *responseRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *responseRecorder) Size() int {
	return w.body.Len()
}

func (w *responseRecorder) Written() bool {
	return w.status != 0
}

func (w *responseRecorder) replace(status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"code":"` + codeOpenAPIResponse + `"}`)
	}
	w.status = status
	w.body.Reset()
	w.body.Write(data)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
}

func (w *responseRecorder) flush() error {
	w.ResponseWriter.WriteHeader(w.Status())
	if w.body.Len() == 0 {
		w.ResponseWriter.WriteHeaderNow()
		return nil
	}
	_, err := w.ResponseWriter.Write(w.body.Bytes())
	return err
}
