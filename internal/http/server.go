package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/outflowhq/outflow/internal/log"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/service"
)

// NewMux wires the inspection and enqueue endpoints consumed by the
// dashboard routes.
func NewMux(svc *service.WorkflowService) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/tasks", TasksHandler(svc))
	mux.HandleFunc("/tasks/", TaskByIDHandler(svc))
	mux.HandleFunc("/stats", StatsHandler(svc))
	mux.HandleFunc("/executions", ExecutionsHandler(svc))
	return mux
}

func StartServer(port string, svc *service.WorkflowService) error {
	log.GetLogger().Infof("Starting Outflow server on :%s", port)
	return http.ListenAndServe(":"+port, NewMux(svc))
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueRequest struct {
	Type       models.TaskType     `json:"type"`
	Priority   models.TaskPriority `json:"priority"`
	Data       map[string]any      `json:"data"`
	MaxRetries *int                `json:"max_retries,omitempty"`
}

// TasksHandler enqueues on POST; on GET it lists tasks of a type, or all
// active tasks when no type is given.
func TasksHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req enqueueRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			if req.Priority == "" {
				req.Priority = models.MediumPriority
			}
			var opts []service.TaskOption
			if req.MaxRetries != nil {
				opts = append(opts, service.WithMaxRetries(*req.MaxRetries))
			}
			taskID, err := svc.Queue().AddTask(req.Type, req.Priority, req.Data, opts...)
			if err != nil {
				log.GetLogger().Errorf("Failed to enqueue task: %v", err)
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
		case http.MethodGet:
			if taskType := r.URL.Query().Get("type"); taskType != "" {
				writeJSON(w, http.StatusOK, svc.Queue().GetTasksByType(models.TaskType(taskType)))
				return
			}
			writeJSON(w, http.StatusOK, svc.Queue().GetActiveTasks())
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// TaskByIDHandler reads one task on GET and cancels it on DELETE.
func TaskByIDHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/tasks/")
		if taskID == "" {
			writeError(w, http.StatusBadRequest, "missing task id")
			return
		}
		switch r.Method {
		case http.MethodGet:
			task, err := svc.Queue().GetTask(taskID)
			if err != nil {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, task)
		case http.MethodDelete:
			if !svc.Queue().CancelTask(taskID) {
				writeError(w, http.StatusConflict, "task is unknown or already terminal")
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// StatsHandler reports queue statistics for one type or all types.
func StatsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if taskType := r.URL.Query().Get("type"); taskType != "" {
			writeJSON(w, http.StatusOK, svc.Queue().GetStats(models.TaskType(taskType)))
			return
		}
		stats := make(map[models.TaskType]models.QueueStats, len(models.TaskTypes))
		for _, taskType := range models.TaskTypes {
			stats[taskType] = svc.Queue().GetStats(taskType)
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// ExecutionsHandler lists the run history of a workflow.
func ExecutionsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		workflowID, err := strconv.ParseInt(r.URL.Query().Get("workflow_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing or invalid workflow_id")
			return
		}
		executions, err := svc.ListExecutions(workflowID)
		if err != nil {
			log.GetLogger().Errorf("Failed to list executions: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, executions)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
