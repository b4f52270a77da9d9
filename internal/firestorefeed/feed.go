package firestorefeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nao1215/pushfeed/pkg/event"
)

const (
	// MessagesCollection は購読対象のコレクション名。
	MessagesCollection = "messages"
	// UsersCollection は表示名を保持するコレクション名。
	UsersCollection = "users"
)

// snapshotIterator はクエリスナップショットを順に返すイテレーター。
// *firestore.QuerySnapshotIterator が満たす。
type snapshotIterator interface {
	Next() (*firestore.QuerySnapshot, error)
	Stop()
}

// Feed はFirestoreのクエリスナップショットを event.Batch に変換して流す event.Subscription。
// 最初のバッチは既存ドキュメント全件のスナップショットになる。
type Feed struct {
	// iter はFirestoreのスナップショットイテレーター。
	iter snapshotIterator
	// batches はバッチを流すチャネル。
	batches chan event.Batch
	// cancel は購読を停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done は受信goroutineの終了を通知する。
	done chan struct{}
	// mu はerrを保護する。
	mu  sync.Mutex
	err error
}

// Subscribe はmessagesコレクションの変更を購読する。
// 最初のスナップショットの取得に失敗した場合はエラーを返す。
func Subscribe(ctx context.Context, client *firestore.Client) (*Feed, error) {
	if client == nil {
		return nil, errors.New("firestoreクライアントが指定されていません")
	}
	return subscribe(ctx, client.Collection(MessagesCollection).Query)
}

func subscribe(ctx context.Context, q firestore.Query) (*Feed, error) {
	ctx, cancel := context.WithCancel(ctx)
	return start(ctx, cancel, q.Snapshots(ctx))
}

// start は最初のスナップショットを同期的に取得してから受信goroutineを起動する。
// iterはctxのキャンセルでNextが戻るものでなければならない。
func start(ctx context.Context, cancel context.CancelFunc, iter snapshotIterator) (*Feed, error) {
	first, err := iter.Next()
	if err != nil {
		iter.Stop()
		cancel()
		return nil, fmt.Errorf("%sの購読開始に失敗: %w", MessagesCollection, err)
	}

	f := &Feed{
		iter:    iter,
		batches: make(chan event.Batch, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go f.run(ctx, first)
	return f, nil
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

// Close は購読を停止し、受信goroutineの終了を待つ。
// イテレーターのStopはNextと並行に呼べないため、受信goroutine側で呼ぶ。
func (f *Feed) Close() error {
	f.cancel()
	<-f.done
	return nil
}

func (f *Feed) run(ctx context.Context, snap *firestore.QuerySnapshot) {
	defer close(f.done)
	defer close(f.batches)
	defer f.iter.Stop()

	log.Printf("[Feed] %sの購読を開始しました", MessagesCollection)
	for {
		select {
		case f.batches <- toBatch(snap):
		case <-ctx.Done():
			return
		}

		var err error
		snap, err = f.iter.Next()
		if err != nil {
			if !isStopped(ctx, err) {
				log.Printf("[Feed] 購読が異常終了しました: %v", err)
				f.setErr(err)
			}
			return
		}
	}
}

func (f *Feed) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// isStopped は購読の停止によって発生したエラーかどうかを判定する。
func isStopped(ctx context.Context, err error) bool {
	if errors.Is(err, iterator.Done) || ctx.Err() != nil {
		return true
	}
	return status.Code(err) == codes.Canceled
}

// toBatch はクエリスナップショットの変更一覧をバッチに変換する。
// 変換できない変更はログに記録して読み飛ばす。
func toBatch(snap *firestore.QuerySnapshot) event.Batch {
	b := event.Batch{ReadAt: snap.ReadTime}
	if b.ReadAt.IsZero() {
		b.ReadAt = time.Now().UTC()
	}

	for _, dc := range snap.Changes {
		kind, ok := kindOf(dc.Kind)
		if !ok || dc.Doc == nil || dc.Doc.Ref == nil {
			continue
		}

		var m event.MessageData
		if err := dc.Doc.DataTo(&m); err != nil {
			log.Printf("[Feed] ドキュメント %s の読み取りに失敗: %v", dc.Doc.Ref.ID, err)
			continue
		}
		c, err := event.NewChange(kind, dc.Doc.Ref.ID, m)
		if err != nil {
			log.Printf("[Feed] ドキュメント %s の変換に失敗: %v", dc.Doc.Ref.ID, err)
			continue
		}
		b.Changes = append(b.Changes, c)
	}
	return b
}

// kindOf はFirestoreの変更種別を event.Kind に変換する。
func kindOf(k firestore.DocumentChangeKind) (event.Kind, bool) {
	switch k {
	case firestore.DocumentAdded:
		return event.KindAdded, true
	case firestore.DocumentModified:
		return event.KindModified, true
	case firestore.DocumentRemoved:
		return event.KindRemoved, true
	default:
		return "", false
	}
}
