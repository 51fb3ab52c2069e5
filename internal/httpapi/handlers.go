package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olgkv/cyclecount/internal/domain"
	"github.com/olgkv/cyclecount/internal/gateway"
	"github.com/olgkv/cyclecount/internal/pagination"
	"github.com/olgkv/cyclecount/internal/roles"
	"github.com/olgkv/cyclecount/internal/service"
)

const (
	reportGenerationTimeout = 30 * time.Second
	maxBodyBytes            = 1 << 20
)

type TaskResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Location    string          `json:"location,omitempty"`
	Status      string          `json:"status"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Progress    domain.Progress `json:"progress"`
}

type AssetsResponse struct {
	Items    []domain.Asset  `json:"items"`
	Page     pagination.Page `json:"pagination"`
	Progress domain.Progress `json:"progress"`
}

type CompletionResponse struct {
	CanComplete bool   `json:"can_complete"`
	Ready       bool   `json:"ready"`
	Role        string `json:"role,omitempty"`
	Counted     int    `json:"counted"`
	Total       int    `json:"total"`
}

type RoleResponse struct {
	Role string `json:"role"`
}

type ReportRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func NewHandler(svc *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger.With("component", "http")}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(ActorMiddleware)

	r.Get("/tasks/{taskID}", h.Task)
	r.Get("/tasks/{taskID}/assets", h.Assets)
	r.Post("/reports", h.Report)

	r.Group(func(r chi.Router) {
		r.Use(RequireActor)
		r.Post("/tasks/{taskID}/assets/{assetID}/toggle", h.Toggle)
		r.Get("/tasks/{taskID}/completion", h.Completion)
		r.Post("/tasks/{taskID}/complete", h.Complete)
		r.Get("/me/role", h.MyRole)
	})
}

func (h *Handler) Task(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.LoadTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(task))
}

func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := service.AssetQuery{
		Search: q.Get("search"),
		Status: q.Get("status"),
	}
	var err error
	if query.Page, err = intParam(q.Get("page")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid page"})
		return
	}
	if query.PageSize, err = intParam(q.Get("page_size")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid page_size"})
		return
	}
	switch query.Status {
	case "", "counted", "pending":
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status must be counted or pending"})
		return
	}

	page, err := h.svc.ListAssets(r.Context(), chi.URLParam(r, "taskID"), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssetsResponse{Items: page.Items, Page: page.Page, Progress: page.Progress})
}

func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")
	task, err := h.svc.ToggleAsset(r.Context(), chi.URLParam(r, "taskID"), assetID, ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := struct {
		Asset    domain.Asset    `json:"asset"`
		Progress domain.Progress `json:"progress"`
	}{Progress: task.Progress()}
	if i := task.AssetIndex(assetID); i >= 0 {
		resp.Asset = task.Assets[i]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Completion(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Completion(r.Context(), chi.URLParam(r, "taskID"), ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CompletionResponse{
		CanComplete: state.CanComplete,
		Ready:       state.Ready,
		Role:        string(state.Role),
		Counted:     state.Counted,
		Total:       state.Total,
	})
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.CompleteTask(r.Context(), chi.URLParam(r, "taskID"), ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(task))
}

func (h *Handler) MyRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.svc.ActorRole(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RoleResponse{Role: string(role)})
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(req.TaskIDs) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, id := range req.TaskIDs {
		if strings.TrimSpace(id) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), reportGenerationTimeout)
	defer cancel()

	data, err := h.svc.Report(ctx, req.TaskIDs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			http.Error(w, "report generation timeout", http.StatusGatewayTimeout)
			return
		}
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=cycle-count-report.pdf")
	_, _ = w.Write(data)
}

// writeError is the single place where service errors become status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	var se *gateway.StatusError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, roles.ErrNoActor):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &se), errors.Is(err, gateway.ErrCircuitOpen):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newTaskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Name:        t.Name,
		Location:    t.Location,
		Status:      string(t.Status),
		CompletedAt: t.CompletedAt,
		Progress:    t.Progress(),
	}
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
