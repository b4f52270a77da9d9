package directory

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"testing"
)

// assertConsistent は2つのマップが互いに整合していることを検証する。
func assertConsistent(t *testing.T, d *Directory) {
	t.Helper()

	d.mu.RLock()
	defer d.mu.RUnlock()

	for uid, addresses := range d.byUser {
		if len(addresses) == 0 {
			t.Errorf("ユーザー %q の空集合が残っている", uid)
		}
		for address := range addresses {
			if owner := d.byAddress[address]; owner != uid {
				t.Errorf("byAddress[%q] = %q, want %q", address, owner, uid)
			}
		}
	}
	for address, uid := range d.byAddress {
		if _, ok := d.byUser[uid][address]; !ok {
			t.Errorf("アドレス %q がユーザー %q の集合に存在しない", address, uid)
		}
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("同一ユーザーに複数のアドレスを登録できる", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("tok1", "u1")
		d.Register("tok2", "u1")

		got := d.Lookup("u1")
		want := []string{"tok1", "tok2"}
		if !slices.Equal(got, want) {
			t.Errorf("Lookup(u1) = %v, want %v", got, want)
		}
		assertConsistent(t, d)
	})

	t.Run("別ユーザーへの再登録で元の所有者から取り除かれる", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("tok1", "u1")
		d.Register("tok1", "u2")

		if got := d.Lookup("u1"); len(got) != 0 {
			t.Errorf("Lookup(u1) = %v, want empty", got)
		}
		if got := d.Lookup("u2"); !slices.Equal(got, []string{"tok1"}) {
			t.Errorf("Lookup(u2) = %v, want [tok1]", got)
		}
		if owner, _ := d.Owner("tok1"); owner != "u2" {
			t.Errorf("Owner(tok1) = %q, want u2", owner)
		}
		assertConsistent(t, d)
	})

	t.Run("同じ登録を繰り返しても状態は変わらない", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("tok1", "u1")
		d.Register("tok1", "u1")

		users, addresses := d.Len()
		if users != 1 || addresses != 1 {
			t.Errorf("Len() = (%d, %d), want (1, 1)", users, addresses)
		}
	})

	t.Run("空のアドレスやユーザーIDは無視される", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("", "u1")
		d.Register("tok1", "")

		users, addresses := d.Len()
		if users != 0 || addresses != 0 {
			t.Errorf("Len() = (%d, %d), want (0, 0)", users, addresses)
		}
	})
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	t.Run("未登録のアドレスの解除は何もしない", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("tok1", "u1")
		d.Unregister("unknown")

		if !d.IsRegistered("tok1") {
			t.Error("tok1が登録解除されてしまった")
		}
		assertConsistent(t, d)
	})

	t.Run("二重の解除は一度の解除と同じ状態になる", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("tok1", "u1")
		d.Register("tok2", "u1")
		d.Unregister("tok1")
		d.Unregister("tok1")

		if got := d.Lookup("u1"); !slices.Equal(got, []string{"tok2"}) {
			t.Errorf("Lookup(u1) = %v, want [tok2]", got)
		}
		if d.IsRegistered("tok1") {
			t.Error("tok1が登録済みのまま")
		}
		assertConsistent(t, d)
	})

	t.Run("最後のアドレスを解除するとユーザーは登録なしになる", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("tok1", "u1")
		d.Unregister("tok1")

		if got := d.Lookup("u1"); got != nil {
			t.Errorf("Lookup(u1) = %v, want nil", got)
		}
		users, addresses := d.Len()
		if users != 0 || addresses != 0 {
			t.Errorf("Len() = (%d, %d), want (0, 0)", users, addresses)
		}
	})
}

func TestUnregisterOwned(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		uid         string
		address     string
		wantRemoved bool
		wantOwner   string
	}{
		{name: "所有者は解除できる", uid: "u1", address: "tok1", wantRemoved: true},
		{name: "所有者以外は解除できない", uid: "u2", address: "tok1", wantRemoved: false, wantOwner: "u1"},
		{name: "未登録のアドレスは何もしない", uid: "u1", address: "unknown", wantRemoved: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := New()
			d.Register("tok1", "u1")

			if got := d.UnregisterOwned(tt.address, tt.uid); got != tt.wantRemoved {
				t.Errorf("UnregisterOwned(%q, %q) = %v, want %v", tt.address, tt.uid, got, tt.wantRemoved)
			}
			owner, ok := d.Owner("tok1")
			if tt.wantOwner == "" && ok && tt.wantRemoved {
				t.Errorf("tok1が解除されていない: owner=%q", owner)
			}
			if tt.wantOwner != "" && owner != tt.wantOwner {
				t.Errorf("Owner(tok1) = %q, want %q", owner, tt.wantOwner)
			}
			assertConsistent(t, d)
		})
	}

	t.Run("別ユーザーへ移った後は元の所有者の解除が効かない", func(t *testing.T) {
		t.Parallel()

		d := New()
		d.Register("tok1", "u1")
		d.Register("tok1", "u2")

		if d.UnregisterOwned("tok1", "u1") {
			t.Error("元の所有者が解除できてしまった")
		}
		if got := d.Lookup("u2"); !slices.Equal(got, []string{"tok1"}) {
			t.Errorf("Lookup(u2) = %v, want [tok1]", got)
		}
		assertConsistent(t, d)
	})
}

func TestLookupReturnsCopy(t *testing.T) {
	t.Parallel()

	d := New()
	d.Register("tok1", "u1")

	got := d.Lookup("u1")
	got[0] = "changed"

	if again := d.Lookup("u1"); !slices.Equal(again, []string{"tok1"}) {
		t.Errorf("Lookup(u1) = %v, want [tok1]", again)
	}
}

// TestRandomOperationsKeepIndexConsistent は任意の操作列の後でも
// 双方向インデックスが整合していることを検証する。
func TestRandomOperationsKeepIndexConsistent(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	d := New()

	for i := range 2000 {
		address := fmt.Sprintf("tok-%d", rng.Intn(20))
		if rng.Intn(3) == 0 {
			d.Unregister(address)
		} else {
			d.Register(address, fmt.Sprintf("u-%d", rng.Intn(5)))
		}
		if i%100 == 0 {
			assertConsistent(t, d)
		}
	}
	assertConsistent(t, d)

	// Lookupと逆引きが一致すること
	for u := range 5 {
		uid := fmt.Sprintf("u-%d", u)
		for _, address := range d.Lookup(uid) {
			if owner, ok := d.Owner(address); !ok || owner != uid {
				t.Errorf("Owner(%q) = (%q, %v), want (%q, true)", address, owner, ok, uid)
			}
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	d := New()
	var wg sync.WaitGroup

	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				address := fmt.Sprintf("tok-%d", i%10)
				switch i % 3 {
				case 0:
					d.Register(address, fmt.Sprintf("u-%d", w%3))
				case 1:
					d.Unregister(address)
				default:
					for _, a := range d.Lookup(fmt.Sprintf("u-%d", w%3)) {
						_ = d.IsRegistered(a)
					}
				}
			}
		}()
	}
	wg.Wait()

	assertConsistent(t, d)
}
