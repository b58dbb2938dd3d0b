// Command orchestratord is the ambient-stack entrypoint: it loads
// configuration from the environment, wires logging/tracing/metrics,
// builds an Orchestrator, and exposes the submission contract over a
// minimal HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"

	"github.com/swarmguard/agentkernel/internal/broadcast"
	"github.com/swarmguard/agentkernel/internal/clock"
	"github.com/swarmguard/agentkernel/internal/config"
	"github.com/swarmguard/agentkernel/internal/contract"
	"github.com/swarmguard/agentkernel/internal/eventbridge"
	"github.com/swarmguard/agentkernel/internal/eventlog"
	"github.com/swarmguard/agentkernel/internal/id"
	"github.com/swarmguard/agentkernel/internal/kernelerr"
	"github.com/swarmguard/agentkernel/internal/llm"
	"github.com/swarmguard/agentkernel/internal/orchestrator"
	"github.com/swarmguard/agentkernel/internal/telemetry"
)

const (
	exitOK            = 0
	exitConfigError   = 2
	exitStartupFailed = 3
	exitSignal        = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()
	if cfg.HTTPAddr == "" {
		slog.Error("HTTP_ADDR must not be empty")
		return exitConfigError
	}

	telemetry.InitLogging(cfg.ServiceName, cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTrace := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	shutdownMeter := telemetry.InitMeter(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	defer telemetry.Flush(context.Background(), shutdownTrace)
	defer telemetry.Flush(context.Background(), shutdownMeter)
	m := telemetry.NewMetrics()

	invoker, err := newInvoker(cfg)
	if err != nil {
		slog.Error("failed to construct llm invoker", "error", err)
		return exitStartupFailed
	}

	log := eventlog.New()
	var sink *eventlog.BoltSink
	if cfg.BoltPath != "" {
		sink, err = eventlog.OpenBoltSink(cfg.BoltPath)
		if err != nil {
			slog.Error("failed to open bolt event sink", "path", cfg.BoltPath, "error", err)
			return exitStartupFailed
		}
		log.AttachSink(sink)
		defer sink.Close()
	}

	bus := broadcast.New(broadcast.Config{
		BufferSize:  cfg.BroadcasterBuffer,
		IdleTimeout: time.Duration(cfg.BroadcasterIdleTimeoutSecs) * time.Second,
	}, clock.System, m)

	orch := orchestrator.New(cfg, invoker, clock.System, m, log, bus)

	if sink != nil {
		snapSched, err := orchestrator.NewSnapshotScheduler(orch, sink, cfg.SnapshotCron)
		if err != nil {
			slog.Error("invalid snapshot cron expression", "cron", cfg.SnapshotCron, "error", err)
			return exitConfigError
		}
		snapSched.Start()
		defer snapSched.Stop()
	}

	if cfg.NATSUrl != "" {
		nc, err := nats.Connect(cfg.NATSUrl)
		if err != nil {
			slog.Error("failed to connect to nats", "url", cfg.NATSUrl, "error", err)
			return exitStartupFailed
		}
		defer nc.Close()
		bridge := eventbridge.New(nc, cfg.ServiceName+".events")
		go bridge.Run(ctx, log, 0, time.Second)
	}

	srv := newServer(cfg.HTTPAddr, orch)
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	serverFailed := false
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErr:
		slog.Error("http server error", "error", err)
		serverFailed = true
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	orch.Shutdown()
	slog.Info("shutdown complete")

	if serverFailed {
		return exitStartupFailed
	}
	if ctx.Err() != nil {
		return exitSignal
	}
	return exitOK
}

func newInvoker(cfg config.Config) (llm.Invoker, error) {
	endpoint := os.Getenv("LLM_PROVIDER_ENDPOINT")
	if endpoint == "" {
		slog.Warn("LLM_PROVIDER_ENDPOINT not set, using stub invoker")
		return &llm.StubInvoker{Result: llm.Result{Text: "stub response", InputTokens: 1, OutputTokens: 1, Confidence: 1.0, HasConfidence: true}}, nil
	}
	return llm.NewHTTPInvoker(endpoint, nil), nil
}

func newServer(addr string, orch *orchestrator.Orchestrator) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleSubmitTask(orch, w, r)
		case http.MethodGet:
			handleGetTask(orch, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/v1/tasks/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handleCancelTask(orch, w, r)
	})

	mux.HandleFunc("/v1/dags", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleSubmitDag(orch, w, r)
		case http.MethodGet:
			handleGetDag(orch, w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/v1/dags/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handleCancelDag(orch, w, r)
	})

	mux.HandleFunc("/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, orch.ListAgents())
	})

	mux.HandleFunc("/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, orch.GetSystemStats())
	})

	return &http.Server{Addr: addr, Handler: mux}
}

type submitTaskRequest struct {
	Name        string           `json:"name"`
	Instruction string           `json:"instruction"`
	Priority    int              `json:"priority"`
	Limits      *contract.Limits `json:"limits,omitempty"`
}

func handleSubmitTask(orch *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Instruction == "" {
		http.Error(w, "name and instruction are required", http.StatusBadRequest)
		return
	}
	taskID, dagID, err := orch.SubmitTask(r.Context(), req.Name, req.Instruction, req.Priority, req.Limits)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": taskID.String(), "dag_id": dagID.String()})
}

func handleGetTask(orch *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	dagID, err := parseDagID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	taskID, err := parseTaskID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	task, err := orch.GetTask(dagID, taskID)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func handleCancelTask(orch *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	dagID, err := parseDagID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	taskID, err := parseTaskID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := orch.CancelTask(dagID, taskID); err != nil {
		writeKernelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitDagRequest struct {
	Name         string                          `json:"name"`
	Tasks        []orchestrator.TaskSpec         `json:"tasks"`
	Dependencies []orchestrator.DependencySpec   `json:"dependencies"`
	Limits       *contract.Limits                `json:"limits,omitempty"`
}

func handleSubmitDag(orch *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	var req submitDagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Name == "" || len(req.Tasks) == 0 {
		http.Error(w, "name and at least one task are required", http.StatusBadRequest)
		return
	}
	dagID, err := orch.SubmitDag(r.Context(), req.Name, req.Tasks, req.Dependencies, req.Limits)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"dag_id": dagID.String()})
}

func handleGetDag(orch *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	dagID, err := parseDagID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	proj, err := orch.GetDag(dagID)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func handleCancelDag(orch *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	dagID, err := parseDagID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := orch.CancelDag(dagID); err != nil {
		writeKernelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUUIDParam(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.UUID{}, kernelerr.New(kernelerr.CodeUnknownTask, "missing id parameter")
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, kernelerr.Newf(kernelerr.CodeUnknownTask, "invalid id %q", raw)
	}
	return u, nil
}

func parseDagID(r *http.Request) (id.DagId, error) {
	raw := r.URL.Query().Get("dag_id")
	u, err := parseUUIDParam(raw)
	if err != nil {
		return id.DagId{}, err
	}
	return id.DagId(u), nil
}

func parseTaskID(r *http.Request) (id.TaskId, error) {
	raw := r.URL.Query().Get("task_id")
	u, err := parseUUIDParam(raw)
	if err != nil {
		return id.TaskId{}, err
	}
	return id.TaskId(u), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeKernelError(w http.ResponseWriter, err error) {
	code := kernelerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case kernelerr.CodeUnknownTask, kernelerr.CodeUnknownModel:
		status = http.StatusNotFound
	case kernelerr.CodeInvalidTransition, kernelerr.CodeCycleDetected, kernelerr.CodeDuplicateTaskId:
		status = http.StatusConflict
	case kernelerr.CodeTokenLimitExceeded, kernelerr.CodeCostLimitExceeded, kernelerr.CodeApiCallLimitExceeded,
		kernelerr.CodeTimeLimitExceeded, kernelerr.CodeContractExceeded, kernelerr.CodeContractViolation:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"code": string(code), "message": err.Error()})
}
