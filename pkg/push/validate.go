package push

import (
	"context"
	"errors"
	"fmt"
)

// Policy はアドレス検証の方針。
type Policy struct {
	// AcceptUnregistered がtrueの場合、プロバイダーが"not registered"と
	// 報告したアドレスも登録を許可する。誤った拒否よりも寛容な受け入れを優先する。
	AcceptUnregistered bool
}

// DefaultPolicy は既定の検証方針を返す。
func DefaultPolicy() Policy {
	return Policy{AcceptUnregistered: true}
}

// Validate は登録前にアドレスが配信可能かどうかをドライラン送信で確認する。
// 登録を拒否すべき場合はErrInvalidAddressを、プロバイダーのその他の
// エラーはラップして返す。
func Validate(ctx context.Context, prober Prober, address string, policy Policy) error {
	if address == "" {
		return fmt.Errorf("%w: アドレスが空です", ErrInvalidAddress)
	}

	err := prober.Probe(ctx, address)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidArgument):
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	case errors.Is(err, ErrNotRegistered):
		if policy.AcceptUnregistered {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	default:
		return fmt.Errorf("アドレスの検証に失敗: %w", err)
	}
}
