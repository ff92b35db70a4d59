package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-codepad/internal/cache"
	"collaborative-codepad/internal/repository/mocks"
	"collaborative-codepad/internal/service"
)

// fakeExecutor 模拟 Piston 风格的执行服务，记录调用次数
func fakeExecutor(t *testing.T, calls *int, stdout string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["language"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"run": map[string]string{"stdout": stdout, "stderr": "", "output": stdout},
		})
	}))
}

func TestExecutionService_Execute_CachesUpstreamResult(t *testing.T) {
	// Arrange
	stateRepo := new(mocks.StateRepository)
	stateRepo.On("CheckRateLimit", mock.Anything, "exec:1.2.3.4", 5, 10*time.Second).Return(false, nil)

	calls := 0
	upstream := fakeExecutor(t, &calls, "42\n")
	defer upstream.Close()

	svc := service.NewExecutionService(stateRepo, cache.NewResultCache(10, time.Hour), upstream.URL, 5*time.Second)

	// Act: 相同提交两次
	output, cached, err := svc.Execute(context.Background(), "1.2.3.4", "print(42)", "python", "")
	require.NoError(t, err)
	assert.Equal(t, "42\n", output)
	assert.False(t, cached, "首次执行应出网")

	output, cached, err = svc.Execute(context.Background(), "1.2.3.4", "print(42)", "python", "")

	// Assert: 第二次命中缓存，不再出网
	require.NoError(t, err)
	assert.Equal(t, "42\n", output)
	assert.True(t, cached)
	assert.Equal(t, 1, calls, "缓存命中不应再调用上游")
}

func TestExecutionService_Execute_DifferentInputMisses(t *testing.T) {
	// Arrange
	stateRepo := new(mocks.StateRepository)
	stateRepo.On("CheckRateLimit", mock.Anything, mock.Anything, 5, 10*time.Second).Return(false, nil)

	calls := 0
	upstream := fakeExecutor(t, &calls, "ok")
	defer upstream.Close()

	svc := service.NewExecutionService(stateRepo, cache.NewResultCache(10, time.Hour), upstream.URL, 5*time.Second)

	// Act: 相同代码、不同 stdin
	_, _, err := svc.Execute(context.Background(), "c1", "read()", "python", "a")
	require.NoError(t, err)
	_, _, err = svc.Execute(context.Background(), "c1", "read()", "python", "b")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 2, calls, "不同 stdin 是不同的缓存键")
}

func TestExecutionService_Execute_RateLimited(t *testing.T) {
	// Arrange: 限流在缓存查找之前
	stateRepo := new(mocks.StateRepository)
	stateRepo.On("CheckRateLimit", mock.Anything, "exec:1.2.3.4", 5, 10*time.Second).Return(true, nil).Once()

	calls := 0
	upstream := fakeExecutor(t, &calls, "never")
	defer upstream.Close()

	svc := service.NewExecutionService(stateRepo, cache.NewResultCache(10, time.Hour), upstream.URL, 5*time.Second)

	// Act
	_, _, err := svc.Execute(context.Background(), "1.2.3.4", "code", "go", "")

	// Assert
	assert.ErrorIs(t, err, service.ErrRateLimited)
	assert.Equal(t, 0, calls, "被限流的请求不应出网")
}

func TestExecutionService_Execute_UpstreamFailure(t *testing.T) {
	// Arrange
	stateRepo := new(mocks.StateRepository)
	stateRepo.On("CheckRateLimit", mock.Anything, mock.Anything, 5, 10*time.Second).Return(false, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"message": "runtime unavailable"})
	}))
	defer upstream.Close()

	resultCache := cache.NewResultCache(10, time.Hour)
	svc := service.NewExecutionService(stateRepo, resultCache, upstream.URL, 5*time.Second)

	// Act
	_, _, err := svc.Execute(context.Background(), "c1", "code", "go", "")

	// Assert: 失败统一映射为 ErrExecutionFailed，且不写缓存
	assert.ErrorIs(t, err, service.ErrExecutionFailed)
	assert.Equal(t, 0, resultCache.Len(), "失败结果不应进缓存")
}

func TestExecutionService_Execute_EmptySubmission(t *testing.T) {
	stateRepo := new(mocks.StateRepository)
	svc := service.NewExecutionService(stateRepo, cache.NewResultCache(10, time.Hour), "http://unused", 5*time.Second)

	_, _, err := svc.Execute(context.Background(), "c1", "", "go", "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, _, err = svc.Execute(context.Background(), "c1", "code", "", "")
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	stateRepo.AssertNotCalled(t, "CheckRateLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
