package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nao1215/pushfeed/internal/directory"
	"github.com/nao1215/pushfeed/pkg/event"
	"github.com/nao1215/pushfeed/pkg/push"
)

// fakeSender は送信内容を記録するテスト用のSender。
type fakeSender struct {
	limit int
	// fail に含まれるアドレスは失敗として返す。
	fail map[string]error
	// batchErr はSendBatch全体を失敗させる。
	batchErr error
	// panicOn を宛先に含むチャンクではパニックする。
	panicOn string

	mu    sync.Mutex
	calls [][]push.Message
}

func (s *fakeSender) MaxBatchSize() int { return s.limit }

func (s *fakeSender) SendBatch(_ context.Context, messages []push.Message) ([]push.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]push.Message(nil), messages...))
	s.mu.Unlock()

	if s.batchErr != nil {
		return nil, s.batchErr
	}
	results := make([]push.Result, 0, len(messages))
	for i, m := range messages {
		if m.To == s.panicOn {
			panic("sender exploded")
		}
		if err, ok := s.fail[m.To]; ok {
			results = append(results, push.Result{To: m.To, Err: err})
			continue
		}
		results = append(results, push.Result{To: m.To, Success: true, MessageID: fmt.Sprintf("ticket-%d", i)})
	}
	return results, nil
}

func (s *fakeSender) Calls() [][]push.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]push.Message(nil), s.calls...)
}

// staticLookup は固定のアドレス一覧を返すAddressLookup。
type staticLookup map[string][]string

func (l staticLookup) Lookup(uid string) []string { return l[uid] }

// reassigningLookup は宛先を返した直後にアドレスを別ユーザーへ登録し直すAddressLookup。
// 送信中に端末の所有者が変わる状況を再現する。
type reassigningLookup struct {
	*directory.Directory
	address string
	to      string
}

func (l *reassigningLookup) Lookup(uid string) []string {
	addresses := l.Directory.Lookup(uid)
	l.Directory.Register(l.address, l.to)
	return addresses
}

// fakeUsers はテスト用のUserReader。
type fakeUsers struct {
	names map[string]string
	// panicOn に一致する送信者ではパニックする。
	panicOn string
}

var errUserNotFound = errors.New("user not found")

func (u *fakeUsers) DisplayName(_ context.Context, uid string) (string, error) {
	if uid == u.panicOn {
		panic("users store exploded")
	}
	name, ok := u.names[uid]
	if !ok {
		return "", errUserNotFound
	}
	return name, nil
}

// notifyCall はNotifyの呼び出し内容。
type notifyCall struct {
	UID          string
	Notification push.Notification
}

// recordingFanout はNotifyの呼び出しを記録するテスト用のFanout。
type recordingFanout struct {
	mu    sync.Mutex
	calls []notifyCall
	// notified は呼び出しごとに通知される。
	notified chan struct{}
}

func newRecordingFanout() *recordingFanout {
	return &recordingFanout{notified: make(chan struct{}, 100)}
}

func (f *recordingFanout) Notify(_ context.Context, uid string, n push.Notification) Report {
	f.mu.Lock()
	f.calls = append(f.calls, notifyCall{UID: uid, Notification: n})
	f.mu.Unlock()
	f.notified <- struct{}{}
	return Report{}
}

func (f *recordingFanout) Calls() []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifyCall(nil), f.calls...)
}

// fakeSubscription はテストからバッチを流すSubscription。
type fakeSubscription struct {
	batches chan event.Batch
	err     error
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{batches: make(chan event.Batch)}
}

func (s *fakeSubscription) Batches() <-chan event.Batch { return s.batches }
func (s *fakeSubscription) Err() error                  { return s.err }
func (s *fakeSubscription) Close() error                { return nil }
