package dispatcher

import (
	"context"
	"log"
	"runtime/debug"
	"sync"

	"github.com/nao1215/pushfeed/pkg/event"
	"github.com/nao1215/pushfeed/pkg/push"
)

// 通知データのキー。
const (
	DataMessageID = "message_id"
	DataSenderID  = "sender_id"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// UserReader は送信者の表示名を読み出す。
type UserReader interface {
	DisplayName(ctx context.Context, uid string) (string, error)
}

// Fanout はユーザーの全デバイスへ通知を配信する。
type Fanout interface {
	Notify(ctx context.Context, uid string, n push.Notification) Report
}

// Config はDispatcherの設定。
type Config struct {
	// Workers は通知を並行して配信するワーカー数。
	Workers int
	// QueueSize はワーカーに渡す前に保持できる変更の件数。
	QueueSize int
	// Sound は通知音の指定。
	Sound string
}

// Dispatcher は変更フィードのバッチを受け取り、追加されたメッセージを通知に変換して配信する。
// 1つのDispatcherは1つの購読に対応し、最初に受け取ったバッチを再生として破棄する。
type Dispatcher struct {
	fanout  Fanout
	users   UserReader
	cfg     Config
	metrics *Metrics

	// mu はsnapshotConsumedを保護する。
	mu               sync.Mutex
	snapshotConsumed bool
}

// New はDispatcherを生成する。metricsはnilでもよい。
func New(fanout Fanout, users UserReader, cfg Config, metrics *Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Dispatcher{
		fanout:  fanout,
		users:   users,
		cfg:     cfg,
		metrics: metrics,
	}
}

// HandleBatch は1つのバッチを同期的に処理する。
// 最初のバッチは破棄し、以降のバッチの追加イベントのみを配信する。
func (d *Dispatcher) HandleBatch(ctx context.Context, b event.Batch) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatcher] バッチ処理中にパニックが発生しました: %v\n%s", r, debug.Stack())
		}
	}()

	if !d.admit(b) {
		return
	}
	for _, c := range b.Changes {
		if !d.qualifies(c) {
			continue
		}
		d.handleChange(ctx, c)
	}
}

// Run は購読からバッチを受け取り、追加イベントをワーカーに振り分ける。
// 最初のバッチの破棄は受信側で行うため、ワーカーの並行度に関係なく最初のバッチは配信されない。
// ctxのキャンセルで停止してctx.Err()を返す。購読が終了した場合はsub.Err()を返す。
func (d *Dispatcher) Run(ctx context.Context, sub event.Subscription) error {
	queue := make(chan event.Change, d.cfg.QueueSize)

	var wg sync.WaitGroup
	for range d.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				d.handleChange(ctx, c)
			}
		}()
	}
	defer func() {
		close(queue)
		wg.Wait()
	}()

	log.Printf("[Dispatcher] 配信を開始します。ワーカー数: %d", d.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			log.Println("[Dispatcher] 配信を停止しました")
			return ctx.Err()
		case b, ok := <-sub.Batches():
			if !ok {
				return sub.Err()
			}
			if !d.admit(b) {
				continue
			}
			for _, c := range b.Changes {
				if !d.qualifies(c) {
					continue
				}
				select {
				case queue <- c:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// admit は最初のバッチであれば破棄して false を返す。
func (d *Dispatcher) admit(b event.Batch) bool {
	d.metrics.batchReceived()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.snapshotConsumed {
		d.snapshotConsumed = true
		d.metrics.batchSuppressed()
		log.Printf("[Dispatcher] 最初のスナップショットを破棄しました。件数: %d", len(b.Changes))
		return false
	}
	return true
}

// qualifies は追加イベントかどうかを判定する。
func (d *Dispatcher) qualifies(c event.Change) bool {
	if c.Kind != event.KindAdded {
		d.metrics.changeSkipped(skipKind)
		return false
	}
	return true
}

// handleChange は1件の追加イベントを通知に変換して配信する。
// 失敗やパニックはログに記録してそのイベントのみ読み飛ばす。
func (d *Dispatcher) handleChange(ctx context.Context, c event.Change) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.changeSkipped(skipPanic)
			log.Printf("[Dispatcher] メッセージ %s の処理中にパニックが発生しました: %v\n%s", c.DocID, r, debug.Stack())
		}
	}()

	msg, err := event.DecodeData[event.MessageData](c)
	if err != nil {
		d.metrics.changeSkipped(skipDecode)
		log.Printf("[Dispatcher] メッセージの読み取りに失敗: %v", err)
		return
	}
	if msg.To == "" {
		d.metrics.changeSkipped(skipNoTarget)
		log.Printf("[Dispatcher] メッセージ %s に受信者がありません", c.DocID)
		return
	}

	name, err := d.users.DisplayName(ctx, msg.From)
	if err != nil {
		d.metrics.changeSkipped(skipSender)
		log.Printf("[Dispatcher] 送信者 %s の表示名の取得に失敗: %v", msg.From, err)
		return
	}

	report := d.fanout.Notify(ctx, msg.To, push.Notification{
		Title: name,
		Body:  msg.Text,
		Sound: d.cfg.Sound,
		Data: map[string]string{
			DataMessageID: c.DocID,
			DataSenderID:  msg.From,
		},
	})
	d.metrics.changeDispatched()
	if len(report.Attempted) > 0 {
		log.Printf("[Dispatcher] メッセージ %s を配信しました。成功: %d, 失敗: %d",
			c.DocID, len(report.Delivered), len(report.Failed))
	}
}
