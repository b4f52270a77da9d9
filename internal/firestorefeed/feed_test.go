package firestorefeed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nao1215/pushfeed/pkg/event"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   firestore.DocumentChangeKind
		want event.Kind
		ok   bool
	}{
		{name: "追加", in: firestore.DocumentAdded, want: event.KindAdded, ok: true},
		{name: "更新", in: firestore.DocumentModified, want: event.KindModified, ok: true},
		{name: "削除", in: firestore.DocumentRemoved, want: event.KindRemoved, ok: true},
		{name: "未知の種別", in: firestore.DocumentChangeKind(99), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := kindOf(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("kindOf(%v) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestToBatch(t *testing.T) {
	t.Parallel()

	t.Run("空のスナップショットは変更なしのバッチになること", func(t *testing.T) {
		t.Parallel()

		readAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		b := toBatch(&firestore.QuerySnapshot{ReadTime: readAt})
		if len(b.Changes) != 0 {
			t.Errorf("Changes = %v, want empty", b.Changes)
		}
		if !b.ReadAt.Equal(readAt) {
			t.Errorf("ReadAt = %v, want %v", b.ReadAt, readAt)
		}
	})

	t.Run("読み取れないドキュメントは読み飛ばされること", func(t *testing.T) {
		t.Parallel()

		snap := &firestore.QuerySnapshot{
			Changes: []firestore.DocumentChange{
				{Kind: firestore.DocumentAdded, Doc: &firestore.DocumentSnapshot{Ref: &firestore.DocumentRef{ID: "m1"}}},
				{Kind: firestore.DocumentAdded},
			},
		}
		b := toBatch(snap)
		if len(b.Changes) != 0 {
			t.Errorf("Changes = %v, want empty", b.Changes)
		}
		if b.ReadAt.IsZero() {
			t.Error("ReadAtが補完されていない")
		}
	})
}

func TestIsStopped(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{name: "iterator.Done", ctx: context.Background(), err: iterator.Done, want: true},
		{name: "Canceledステータス", ctx: context.Background(), err: status.Error(codes.Canceled, "canceled"), want: true},
		{name: "コンテキストのキャンセル", ctx: canceled, err: errors.New("boom"), want: true},
		{name: "その他のエラー", ctx: context.Background(), err: status.Error(codes.Unavailable, "down"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := isStopped(tt.ctx, tt.err); got != tt.want {
				t.Errorf("isStopped() = %v, want %v", got, tt.want)
			}
		})
	}
}

// blockingIterator は最初の1回だけスナップショットを返し、以降はctxのキャンセルまでNextで待つ。
// Nextの実行中にStopが呼ばれたかどうかを記録する。
type blockingIterator struct {
	ctx   context.Context
	first *firestore.QuerySnapshot

	mu          sync.Mutex
	calls       int
	inNext      bool
	stopped     bool
	stopInNext  bool
	firstErr    error
	nextEntered chan struct{}
}

func (it *blockingIterator) Next() (*firestore.QuerySnapshot, error) {
	it.mu.Lock()
	it.calls++
	calls := it.calls
	it.inNext = true
	it.mu.Unlock()
	defer func() {
		it.mu.Lock()
		it.inNext = false
		it.mu.Unlock()
	}()

	if calls == 1 {
		if it.firstErr != nil {
			return nil, it.firstErr
		}
		return it.first, nil
	}
	it.nextEntered <- struct{}{}
	<-it.ctx.Done()
	return nil, status.Error(codes.Canceled, "canceled")
}

func (it *blockingIterator) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.stopped = true
	if it.inNext {
		it.stopInNext = true
	}
}

func TestFeedClose(t *testing.T) {
	t.Parallel()

	t.Run("Nextで待機中にCloseしてもStopはNextと並行に呼ばれないこと", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		it := &blockingIterator{ctx: ctx, first: &firestore.QuerySnapshot{}, nextEntered: make(chan struct{}, 1)}
		f, err := start(ctx, cancel, it)
		if err != nil {
			t.Fatalf("start()でエラーが発生: %v", err)
		}

		select {
		case <-f.Batches():
		case <-time.After(5 * time.Second):
			t.Fatal("最初のバッチが届かなかった")
		}
		select {
		case <-it.nextEntered:
		case <-time.After(5 * time.Second):
			t.Fatal("2回目のNextが呼ばれなかった")
		}

		if err := f.Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}

		it.mu.Lock()
		defer it.mu.Unlock()
		if !it.stopped {
			t.Error("Stopが呼ばれていない")
		}
		if it.stopInNext {
			t.Error("Nextの実行中にStopが呼ばれた")
		}
		if err := f.Err(); err != nil {
			t.Errorf("Err() = %v, want nil", err)
		}
	})

	t.Run("最初のNextが失敗した場合はエラーを返しStopすること", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		it := &blockingIterator{ctx: ctx, firstErr: status.Error(codes.PermissionDenied, "denied")}
		if _, err := start(ctx, cancel, it); err == nil {
			t.Fatal("エラーが返されなかった")
		}
		if !it.stopped {
			t.Error("Stopが呼ばれていない")
		}
		if ctx.Err() == nil {
			t.Error("コンテキストがキャンセルされていない")
		}
	})
}
