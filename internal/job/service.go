package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ContentCrew/internal/errors"
	"ContentCrew/pkg/logger"
)

// Request 描述一次异步 kickoff 请求。
type Request struct {
	ID     string            `json:"id,omitempty"`
	Crew   string            `json:"crew,omitempty"`
	Inputs map[string]string `json:"inputs"`
}

// Service 负责作业的创建与查询。
type Service struct {
	store       Store
	producer    Producer
	catalog     Catalog
	defaultCrew string
	maxRetries  int
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithCatalog 配置团队目录，提交时用于校验团队名与输入参数。
func WithCatalog(catalog Catalog) ServiceOption {
	return func(s *Service) {
		s.catalog = catalog
	}
}

// WithDefaultCrew 设置请求未指定团队时使用的团队名。
func WithDefaultCrew(name string) ServiceOption {
	return func(s *Service) {
		s.defaultCrew = strings.TrimSpace(name)
	}
}

// NewService 构造作业服务。
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建一个新的作业并推送到队列。指定 ID 的重复提交返回已有作业。
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}
	crewName := strings.TrimSpace(req.Crew)
	if crewName == "" {
		crewName = s.defaultCrew
	}
	if crewName == "" {
		return nil, xerrors.New(CodeJobValidation, "未指定团队")
	}
	if len(req.Inputs) == 0 {
		return nil, xerrors.New(CodeJobValidation, "输入参数不能为空")
	}
	if err := s.validate(crewName, req.Inputs); err != nil {
		return nil, err
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:         jobID,
		Crew:       crewName,
		Inputs:     cloneInputs(req.Inputs),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("作业入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布作业到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("作业入队成功",
		slog.String("job_id", jobID),
		slog.String("crew", crewName),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

func (s *Service) validate(crewName string, inputs map[string]string) error {
	if s.catalog == nil {
		return nil
	}
	def, ok := s.catalog.Get(crewName)
	if !ok {
		return xerrors.New(CodeJobValidation, fmt.Sprintf("未知的团队 %s", crewName),
			xerrors.WithMetadata("crew", crewName))
	}
	return def.CheckInputs(inputs)
}

// Get 返回指定作业的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的作业列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts))
}

// Stats 返回符合过滤条件的作业统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询作业状态直到进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
