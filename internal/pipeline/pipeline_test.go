package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteRunsStagesInOrder(t *testing.T) {
	o := New()
	var order []string
	var mu sync.Mutex
	record := func(name string) func(ctx context.Context, req *Request) error {
		return func(ctx context.Context, req *Request) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	o.Register(Plugin{Name: "authn", Stage: StageAuthentication, Mode: Sync, Run: record("authn")})
	o.Register(Plugin{Name: "authz", Stage: StageAuthorization, Mode: Sync, Run: record("authz")})
	o.Register(Plugin{Name: "before", Stage: StageBusinessBefore, Mode: Sync, Run: record("before")})
	o.Register(Plugin{Name: "after", Stage: StageBusinessAfter, Mode: Sync, Run: record("after")})

	req := &Request{TenantID: "t1", ResourceType: "Patient"}
	err := o.Execute(context.Background(), req, func(ctx context.Context, req *Request) error {
		mu.Lock()
		order = append(order, "core")
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"authn", "authz", "before", "core", "after"}, order)
}

func TestSyncPluginFailureAbortsLaterStages(t *testing.T) {
	o := New()
	var ranCore, ranAfter bool
	o.Register(Plugin{Name: "authz", Stage: StageAuthorization, Mode: Sync, Run: func(ctx context.Context, req *Request) error {
		return errors.New("forbidden")
	}})
	o.Register(Plugin{Name: "after", Stage: StageBusinessAfter, Mode: Sync, Run: func(ctx context.Context, req *Request) error {
		ranAfter = true
		return nil
	}})

	err := o.Execute(context.Background(), &Request{}, func(ctx context.Context, req *Request) error {
		ranCore = true
		return nil
	})
	require.Error(t, err)
	require.False(t, ranCore)
	require.False(t, ranAfter)
}

func TestCoreFailureAbortsBusinessAfter(t *testing.T) {
	o := New()
	var ranAfter bool
	o.Register(Plugin{Name: "after", Stage: StageBusinessAfter, Mode: Sync, Run: func(ctx context.Context, req *Request) error {
		ranAfter = true
		return nil
	}})

	err := o.Execute(context.Background(), &Request{}, func(ctx context.Context, req *Request) error {
		return errors.New("not found")
	})
	require.Error(t, err)
	require.False(t, ranAfter)
}

func TestAuditRunsEvenWhenPipelineAborts(t *testing.T) {
	o := New()
	done := make(chan struct{}, 1)
	o.Register(Plugin{Name: "authn", Stage: StageAuthentication, Mode: Sync, Run: func(ctx context.Context, req *Request) error {
		return errors.New("unauthenticated")
	}})
	o.Register(Plugin{Name: "audit", Stage: StageAudit, Mode: Async, Run: func(ctx context.Context, req *Request) error {
		done <- struct{}{}
		return nil
	}})

	err := o.Execute(context.Background(), &Request{}, func(ctx context.Context, req *Request) error {
		return nil
	})
	require.Error(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("audit plugin never ran")
	}
}

func TestAsyncPluginPanicDoesNotCrashPipeline(t *testing.T) {
	o := New()
	o.Register(Plugin{Name: "cache-write", Stage: StageCacheWrite, Mode: Async, Run: func(ctx context.Context, req *Request) error {
		panic("boom")
	}})

	err := o.Execute(context.Background(), &Request{}, func(ctx context.Context, req *Request) error {
		return nil
	})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // let the panicking goroutine finish
}

func TestCacheKeyIsTenantScoped(t *testing.T) {
	r1 := &Request{TenantID: "a", ResourceType: "Patient", ResourceID: "1"}
	r2 := &Request{TenantID: "b", ResourceType: "Patient", ResourceID: "1"}
	require.NotEqual(t, r1.CacheKey(), r2.CacheKey())
}
