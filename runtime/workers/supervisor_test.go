package workers_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"groupchat/mocks"
	"groupchat/runtime/workers"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_RestartsAfterPanic(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls atomic.Int32
	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().Run(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}).Times(2)

	sup := workers.NewSupervisor(discardLogger())
	sup.Add(worker)

	done := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not finish")
	}
	req.Equal(int32(2), calls.Load())
}

func TestSupervisor_StopCancelsWorkers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	started := make(chan struct{})
	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().Run(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	sup := workers.NewSupervisor(discardLogger())
	sup.Add(worker)

	done := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(done)
	}()

	<-started
	sup.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestSupervisor_ParentContextCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	started := make(chan struct{})
	worker := mocks.NewMockWorker(ctrl)
	worker.EXPECT().Run(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	sup := workers.NewSupervisor(discardLogger())
	sup.Add(worker)

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor ignored parent cancellation")
	}
}
