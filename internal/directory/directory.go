package directory

import (
	"sort"
	"sync"
)

// Directory はユーザーIDとプッシュアドレスの双方向インデックス。
// 2つのマップは常に1つのミューテックスの下で同時に更新される。
type Directory struct {
	// mu はbyUserとbyAddressの両方を保護する。
	mu sync.RWMutex
	// byUser はユーザーIDから登録済みアドレス集合への対応。
	byUser map[string]map[string]struct{}
	// byAddress はアドレスから所有ユーザーIDへの逆引き。
	byAddress map[string]string
}

// New は空のDirectoryを生成する。
func New() *Directory {
	return &Directory{
		byUser:    make(map[string]map[string]struct{}),
		byAddress: make(map[string]string),
	}
}

// Register はアドレスをユーザーに登録する。
// 別のユーザーが所有していた場合は先にそのユーザーから取り除く。
// 空のアドレスまたはユーザーIDは無視する。
func (d *Directory) Register(address, uid string) {
	if address == "" || uid == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.unregisterLocked(address)

	addresses, ok := d.byUser[uid]
	if !ok {
		addresses = make(map[string]struct{})
		d.byUser[uid] = addresses
	}
	addresses[address] = struct{}{}
	d.byAddress[address] = uid
}

// Unregister はアドレスの登録を解除する。未登録のアドレスに対しては何もしない。
func (d *Directory) Unregister(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unregisterLocked(address)
}

// UnregisterOwned はアドレスがuidに登録されている場合のみ解除し、解除したかどうかを返す。
// 所有者の確認と解除は同じロックの下で行う。
func (d *Directory) UnregisterOwned(address, uid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.byAddress[address]; !ok || owner != uid {
		return false
	}
	d.unregisterLocked(address)
	return true
}

// unregisterLocked はmuを保持した状態で登録を解除する。
// 集合が空になったユーザーはbyUserから削除する。
func (d *Directory) unregisterLocked(address string) {
	uid, ok := d.byAddress[address]
	if !ok {
		return
	}

	delete(d.byAddress, address)
	addresses := d.byUser[uid]
	delete(addresses, address)
	if len(addresses) == 0 {
		delete(d.byUser, uid)
	}
}

// Lookup はユーザーに登録されているアドレスの一覧をソート済みのコピーで返す。
// 登録が無い場合はnilを返す。
func (d *Directory) Lookup(uid string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addresses := d.byUser[uid]
	if len(addresses) == 0 {
		return nil
	}

	result := make([]string, 0, len(addresses))
	for address := range addresses {
		result = append(result, address)
	}
	sort.Strings(result)
	return result
}

// IsRegistered はアドレスが登録済みかどうかを返す。
func (d *Directory) IsRegistered(address string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byAddress[address]
	return ok
}

// Owner はアドレスを所有するユーザーIDを返す。
func (d *Directory) Owner(address string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	uid, ok := d.byAddress[address]
	return uid, ok
}

// Len は登録済みのユーザー数とアドレス数を返す。
func (d *Directory) Len() (users, addresses int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser), len(d.byAddress)
}
