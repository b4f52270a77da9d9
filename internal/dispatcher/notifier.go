package dispatcher

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/pushfeed/pkg/push"
)

// defaultSendConcurrency は同時に送信するチャンク数の既定値。
const defaultSendConcurrency = 4

// AddressLookup はユーザーの登録済みプッシュアドレスを返す。
type AddressLookup interface {
	Lookup(uid string) []string
}

// AddressPruner は登録解除済みと報告されたアドレスをディレクトリから取り除く。
// AddressLookupの実装がこれを満たす場合のみ削除を行う。
type AddressPruner interface {
	// UnregisterOwned はアドレスがuidに登録されたままの場合のみ解除する。
	UnregisterOwned(address, uid string) bool
}

// Report は1回のNotifyの配信結果。
type Report struct {
	// Attempted は送信を試みたアドレス。
	Attempted []string `json:"attempted"`
	// Delivered はプロバイダーが受け付けたアドレス。
	Delivered []string `json:"delivered"`
	// Failed は送信に失敗したアドレス。Unregisteredのアドレスも含む。
	Failed []string `json:"failed"`
	// Unregistered はプロバイダーが登録解除済みと報告したアドレス。
	Unregistered []string `json:"unregistered"`
}

// Notifier はユーザーの全デバイスへ通知を配信する。
type Notifier struct {
	lookup      AddressLookup
	sender      push.Sender
	concurrency int
	prune       bool
	metrics     *Metrics
}

// NotifierOption はNotifierの設定を変更する。
type NotifierOption func(*Notifier)

// WithSendConcurrency は同時に送信するチャンク数の上限を設定する。
func WithSendConcurrency(n int) NotifierOption {
	return func(nt *Notifier) {
		if n > 0 {
			nt.concurrency = n
		}
	}
}

// WithPruneUnregistered は登録解除済みと報告されたアドレスを削除するかどうかを設定する。
func WithPruneUnregistered(prune bool) NotifierOption {
	return func(nt *Notifier) {
		nt.prune = prune
	}
}

// WithMetrics は配信結果を記録するメトリクスを設定する。
func WithMetrics(m *Metrics) NotifierOption {
	return func(nt *Notifier) {
		nt.metrics = m
	}
}

// NewNotifier はNotifierを生成する。
func NewNotifier(lookup AddressLookup, sender push.Sender, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		lookup:      lookup,
		sender:      sender,
		concurrency: defaultSendConcurrency,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify はuidの登録済みデバイス全てに通知を送る。
// アドレスはプロバイダーの上限件数ごとに分割して送信する。
// 1件のアドレスやチャンクの失敗は他の送信を止めず、結果はReportにまとめて返す。
func (n *Notifier) Notify(ctx context.Context, uid string, notification push.Notification) Report {
	addresses := n.lookup.Lookup(uid)
	if len(addresses) == 0 {
		return Report{}
	}

	messages := make([]push.Message, 0, len(addresses))
	for _, address := range addresses {
		messages = append(messages, push.Message{To: address, Notification: notification})
	}

	chunks := push.Chunk(messages, n.sender.MaxBatchSize())
	results := make([][]push.Result, len(chunks))

	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			results[i] = n.sendChunk(ctx, chunk)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Attempted: addresses}
	for _, chunkResults := range results {
		for _, r := range chunkResults {
			if r.Success {
				report.Delivered = append(report.Delivered, r.To)
				continue
			}
			log.Printf("[Notifier] 送信に失敗しました。ユーザー: %s, アドレス: %s, 理由: %v", uid, r.To, r.Err)
			report.Failed = append(report.Failed, r.To)
			if r.Unregistered() {
				report.Unregistered = append(report.Unregistered, r.To)
			}
		}
	}

	if n.prune {
		n.pruneUnregistered(uid, report.Unregistered)
	}
	n.metrics.observeReport(report)
	return report
}

// sendChunk は1チャンクを送信し、メッセージごとの結果を返す。
// チャンク全体の失敗やパニックは、チャンク内の全アドレスの失敗として扱う。
func (n *Notifier) sendChunk(ctx context.Context, chunk []push.Message) (results []push.Result) {
	defer func() {
		if r := recover(); r != nil {
			results = failAll(chunk, fmt.Errorf("送信中にパニックが発生: %v", r))
		}
	}()

	sent, err := n.sender.SendBatch(ctx, chunk)
	if err != nil {
		return failAll(chunk, err)
	}
	return alignResults(chunk, sent)
}

// alignResults は送信結果をメッセージと1対1に揃える。
// 結果が欠けているメッセージは失敗として扱う。
func alignResults(chunk []push.Message, sent []push.Result) []push.Result {
	results := make([]push.Result, len(chunk))
	for i, m := range chunk {
		if i >= len(sent) {
			results[i] = push.Result{To: m.To, Err: fmt.Errorf("アドレス %s の送信結果がありません", m.To)}
			continue
		}
		r := sent[i]
		r.To = m.To
		if !r.Success && r.Err == nil {
			r.Err = fmt.Errorf("アドレス %s への送信が拒否されました", m.To)
		}
		results[i] = r
	}
	return results
}

func failAll(chunk []push.Message, err error) []push.Result {
	results := make([]push.Result, 0, len(chunk))
	for _, m := range chunk {
		results = append(results, push.Result{To: m.To, Err: err})
	}
	return results
}

// pruneUnregistered はuidが所有したままのアドレスのみディレクトリから削除する。
func (n *Notifier) pruneUnregistered(uid string, addresses []string) {
	pruner, ok := n.lookup.(AddressPruner)
	if !ok {
		return
	}
	for _, address := range addresses {
		if pruner.UnregisterOwned(address, uid) {
			log.Printf("[Notifier] 登録解除済みのアドレスを削除しました。ユーザー: %s, アドレス: %s", uid, address)
		}
	}
}
