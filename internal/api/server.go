package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ContentCrew/internal/crew"
	xerrors "ContentCrew/internal/errors"
	"ContentCrew/internal/job"
	"ContentCrew/internal/observability/metrics"
	"ContentCrew/pkg/logger"
)

const (
	kickoffsPath = "/api/v1/kickoffs"
	crewsPath    = "/api/v1/crews"
	maxBodyBytes = 1 << 20
)

// CrewLister 返回已注册的团队定义。
type CrewLister interface {
	List() []*crew.Crew
}

// Server 负责暴露 REST 接口，供外部提交与查询 kickoff 作业。
type Server struct {
	addr  string
	jobs  *job.Service
	crews CrewLister
}

// Option 调整 Server 的可选依赖。
type Option func(*Server)

// WithCrews 让 /api/v1/crews 返回指定目录中的团队。
func WithCrews(lister CrewLister) Option {
	return func(s *Server) {
		s.crews = lister
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *job.Service, opts ...Option) *Server {
	s := &Server{addr: addr, jobs: svc}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回带指标采集的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(kickoffsPath, instrument("kickoffs", http.HandlerFunc(s.handleKickoffs)))
	mux.Handle(kickoffsPath+"/", instrument("kickoff_detail", http.HandlerFunc(s.handleKickoffDetail)))
	mux.Handle(crewsPath, instrument("crews", http.HandlerFunc(s.handleCrews)))
	mux.Handle("/healthz", instrument("healthz", http.HandlerFunc(handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type kickoffRequest struct {
	ID     string            `json:"id"`
	Crew   string            `json:"crew"`
	Inputs map[string]string `json:"inputs"`
}

// jobView 在作业上附加 finished 标记，方便客户端轮询。
type jobView struct {
	*job.Job
	Finished bool `json:"finished"`
}

func viewOf(j *job.Job) jobView {
	return jobView{Job: j, Finished: j.Finished()}
}

func (s *Server) handleKickoffs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateKickoff(w, r)
	case http.MethodGet:
		s.handleListKickoffs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET/POST")
	}
}

func (s *Server) handleCreateKickoff(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "作业服务未初始化")
		return
	}
	var req kickoffRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "请求体解析失败")
		return
	}
	created, err := s.jobs.Submit(r.Context(), job.Request{ID: req.ID, Crew: req.Crew, Inputs: req.Inputs})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(created))
}

func (s *Server) handleListKickoffs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "作业服务未初始化")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"kickoffs": views})
}

func (s *Server) handleKickoffDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "作业服务未初始化")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, kickoffsPath+"/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, "缺少作业 ID")
		return
	}
	if id == "stats" {
		s.handleStats(w, r)
		return
	}
	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(found))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, xerrors.CodeInvalidArgument, err.Error())
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCrews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.CodeInvalidArgument, "仅支持 GET")
		return
	}
	crews := []*crew.Crew{}
	if s.crews != nil {
		crews = s.crews.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"crews": crews})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseListOptions(r *http.Request) ([]job.ListOption, error) {
	q := r.URL.Query()
	var opts []job.ListOption
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, errors.New("limit 必须为正整数")
		}
		opts = append(opts, job.WithLimit(limit))
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, errors.New("offset 不能为负数")
		}
		opts = append(opts, job.WithOffset(offset))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				return nil, errors.New("未知的作业状态 " + string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := q.Get("crew"); raw != "" {
		opts = append(opts, job.WithCrew(raw))
	}
	if raw := q.Get("q"); raw != "" {
		opts = append(opts, job.WithQuery(raw))
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	default:
		return nil, errors.New("order 只能为 asc 或 desc")
	}
	if raw := q.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("has_result 必须为布尔值")
		}
		opts = append(opts, job.WithResultPresence(has))
	}
	return opts, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeServiceError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logger.L().Error("处理请求失败", slog.Any("error", err), slog.String("code", string(code)))
	}
	message := err.Error()
	if e, ok := xerrors.From(err); ok && e.Message() != "" {
		message = e.Message()
	}
	writeError(w, status, code, message)
}

// statusFor 把错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeMissingInput, xerrors.CodeCrewValidation, job.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, job.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, job.CodeJobConflict, job.CodeJobCompleted:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure, xerrors.CodeQueueFailure, job.CodeJobPublish:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code xerrors.Code, message string) {
	writeJSON(w, status, errorBody{Code: string(code), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个请求的次数、耗时与 5xx 错误。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, xerrors.CodeInitializationFailure, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
