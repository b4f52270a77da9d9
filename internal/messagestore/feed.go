package messagestore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nao1215/pushfeed/pkg/event"
)

const (
	// defaultPollInterval はポーリング間隔の既定値。
	defaultPollInterval = 2 * time.Second
	// defaultPageSize は1回のクエリで読み出す最大件数の既定値。
	defaultPageSize = 500
)

// SubscribeOptions はフィード購読の設定。
type SubscribeOptions struct {
	// Interval はポーリング間隔。0以下の場合は既定値を使用する。
	Interval time.Duration
	// PageSize は1回のクエリで読み出す最大件数。0以下の場合は既定値を使用する。
	PageSize int
	// BufferSize はバッチを流すチャネルのバッファ数。
	BufferSize int
}

// Feed はmessagesテーブルをポーリングする event.Subscription。
// 最初のバッチは既存の全メッセージを含み、空であっても必ず配信される。
// 2回目以降は新しく追記されたメッセージがある場合のみ配信される。
type Feed struct {
	// store はポーリング対象のストア。
	store *Store
	// opts は購読の設定。
	opts SubscribeOptions
	// batches はバッチを流すチャネル。
	batches chan event.Batch
	// lastSeq は最後に読み出したメッセージの連番。
	lastSeq int64
	// cancel はポーリングを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はポーリングgoroutineの終了を通知する。
	done chan struct{}
	// mu はerrを保護する。
	mu  sync.Mutex
	err error
}

// Subscribe はmessagesテーブルの変更フィードを購読する。
// ctxがキャンセルされるかCloseを呼ぶまでバックグラウンドでポーリングを続ける。
func (s *Store) Subscribe(ctx context.Context, opts SubscribeOptions) *Feed {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	ctx, cancel := context.WithCancel(ctx)
	f := &Feed{
		store:   s,
		opts:    opts,
		batches: make(chan event.Batch, opts.BufferSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go f.run(ctx)
	return f
}

// Batches は受信したバッチを流すチャネルを返す。
func (f *Feed) Batches() <-chan event.Batch {
	return f.batches
}

// Err は購読が異常終了した場合のエラーを返す。
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close はポーリングを停止し、goroutineの終了を待つ。
func (f *Feed) Close() error {
	f.cancel()
	<-f.done
	return nil
}

// run はポーリングループ本体。
func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.batches)

	log.Printf("[Feed] messagesのポーリングを開始します。間隔: %s", f.opts.Interval)
	ticker := time.NewTicker(f.opts.Interval)
	defer ticker.Stop()

	snapshotSent := false
	for {
		changes, err := f.poll(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			log.Printf("[Feed] ポーリングエラー: %v", err)
		case !snapshotSent || len(changes) > 0:
			if !f.emit(ctx, event.Batch{Changes: changes, ReadAt: time.Now().UTC()}) {
				return
			}
			snapshotSent = true
		}

		select {
		case <-ctx.Done():
			log.Println("[Feed] ポーリングを停止しました")
			return
		case <-ticker.C:
		}
	}
}

// emit はバッチをチャネルに送る。購読が停止された場合はfalseを返す。
func (f *Feed) emit(ctx context.Context, b event.Batch) bool {
	select {
	case f.batches <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

// poll はlastSeq以降のメッセージを全ページ読み出して変更に変換する。
// 1件でも変換に失敗した場合は読み出し位置を進めない。
func (f *Feed) poll(ctx context.Context) ([]event.Change, error) {
	var changes []event.Change
	cursor := f.lastSeq
	for {
		messages, err := f.store.MessagesSince(ctx, cursor, f.opts.PageSize)
		if err != nil {
			return nil, err
		}

		for _, m := range messages {
			c, err := event.NewChange(event.KindAdded, m.ID, m.MessageData)
			if err != nil {
				return nil, fmt.Errorf("メッセージ %s の変換に失敗: %w", m.ID, err)
			}
			changes = append(changes, c)
			cursor = m.Seq
		}

		if len(messages) < f.opts.PageSize {
			break
		}
	}

	f.lastSeq = cursor
	return changes, nil
}
