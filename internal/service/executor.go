package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/cache"
	"collaborative-codepad/internal/repository"
)

// 每个客户端的执行频率限制：10 秒窗口内最多 5 次。
// 缓存命中同样计入，限流在缓存查找之前完成。
const (
	execRateLimit  = 5
	execRateWindow = 10 * time.Second
)

// ExecutionService 代理外部代码执行服务。
// 外部调用慢且自身有配额，所以请求先过限流，再查结果缓存，
// 只有未命中的请求才真正出网。
type ExecutionService struct {
	stateRepo  repository.StateRepository
	results    *cache.ResultCache
	httpClient *http.Client
	baseURL    string
}

// NewExecutionService 创建 ExecutionService 实例。
func NewExecutionService(stateRepo repository.StateRepository, results *cache.ResultCache, baseURL string, timeout time.Duration) *ExecutionService {
	if stateRepo == nil {
		panic("StateRepository cannot be nil for ExecutionService")
	}
	if results == nil {
		panic("ResultCache cannot be nil for ExecutionService")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ExecutionService{
		stateRepo:  stateRepo,
		results:    results,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// executeRequest 是发往外部执行服务的请求体 (Piston 风格 API)。
type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
	Stdin    string        `json:"stdin,omitempty"`
}

type executeFile struct {
	Content string `json:"content"`
}

// executeResponse 是外部执行服务的响应体。
type executeResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Output string `json:"output"`
	} `json:"run"`
	Message string `json:"message,omitempty"`
}

// Execute 执行一段代码并返回输出。
// clientKey 标识请求来源（通常是客户端 IP），用于限流。
// 返回值 cached 表示结果来自缓存。
// 上游失败统一映射为 ErrExecutionFailed，不重试——调用已经限流且有缓存兜底。
func (s *ExecutionService) Execute(ctx context.Context, clientKey, code, language, input string) (string, bool, error) {
	logCtx := logrus.WithFields(logrus.Fields{"client": clientKey, "language": language})

	if code == "" || language == "" {
		return "", false, ErrInvalidInput
	}

	limited, err := s.stateRepo.CheckRateLimit(ctx, "exec:"+clientKey, execRateLimit, execRateWindow)
	if err != nil {
		logCtx.WithError(err).Error("Execute: rate limit check failed")
		return "", false, ErrInternalServer
	}
	if limited {
		logCtx.Warn("Execute: client rate limited")
		return "", false, ErrRateLimited
	}

	key := cache.Key(code, language, input)
	if output, ok := s.results.Get(key); ok {
		logCtx.Debug("Execute: cache hit")
		return output, true, nil
	}

	output, err := s.callUpstream(ctx, code, language, input)
	if err != nil {
		logCtx.WithError(err).Error("Execute: upstream execution failed")
		return "", false, ErrExecutionFailed
	}

	s.results.Set(key, output)
	logCtx.Debug("Execute: upstream result cached")
	return output, false, nil
}

// callUpstream 向外部执行服务发起一次调用
func (s *ExecutionService) callUpstream(ctx context.Context, code, language, input string) (string, error) {
	reqBody, err := json.Marshal(executeRequest{
		Language: language,
		Version:  "*",
		Files:    []executeFile{{Content: code}},
		Stdin:    input,
	})
	if err != nil {
		return "", fmt.Errorf("marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/execute", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call execution service: %w", err)
	}
	defer resp.Body.Close()

	var result executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode execution response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("execution service returned status %d: %s", resp.StatusCode, result.Message)
	}

	if result.Run.Output != "" {
		return result.Run.Output, nil
	}
	return result.Run.Stdout + result.Run.Stderr, nil
}
