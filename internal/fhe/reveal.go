package fhe

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/misc"
)

// --- 披露部分 ---

// Reveal 把密文重新加密到主体自己的公钥上。
// 只有持有授权的主体才能披露，返回的密文由主体本地解密。
func (e *Engine) Reveal(h Handle, principal uuid.UUID) (*rlwe.Ciphertext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	if !e.isAllowedLocked(h, principal) {
		return nil, ErrNotAllowed
	}
	reg, ok := e.principals[principal]
	if !ok || reg.ckksPub == nil {
		return nil, ErrUnknownPrincipal
	}
	return e.encryptUnder(reg.ckksPub, s.value)
}

// --- 密封部分 ---

// Seal 把句柄的值加密到引擎自身的公钥上，供落盘持久化。
func (e *Engine) Seal(h Handle) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.lookup(h)
	if err != nil {
		return nil, err
	}
	ct, err := e.encryptUnder(e.keys.CKKSPublicKey, s.value)
	if err != nil {
		return nil, err
	}
	return ct.MarshalBinary()
}

// Unseal 从密封数据恢复一个句柄。服务端重启时逐条重放。
func (e *Engine) Unseal(h Handle, kind byte, sealed []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h.IsZero() {
		return nil
	}
	ct, err := key.UnmarshalCKKSCipherText(sealed)
	if err != nil {
		return err
	}
	raw, err := e.decryptRaw(ct)
	if err != nil {
		return err
	}
	e.store[h] = slot{value: misc.RoundAmount(raw), kind: kind}
	return nil
}

// --- Helper Func 部分 ---

// encryptUnder 把明文金额加密到给定公钥上。
// lattigo 在输入畸形时会 panic，这里统一转换为错误。
func (e *Engine) encryptUnder(pk *rlwe.PublicKey, v uint64) (ct *rlwe.Ciphertext, err error) {
	defer func() {
		if p := recover(); p != nil {
			ct = nil
			err = fmt.Errorf("encrypt failed, got panic: %v", p)
		}
	}()

	pt := e.encoder.EncodeNew(
		[]float64{float64(v)},
		e.params.MaxLevel(),
		e.params.DefaultScale(),
		e.params.LogSlots())
	ct = ckks.NewEncryptor(e.params, pk).EncryptNew(pt)
	return
}

// decryptRaw 解开引擎公钥下的密文，返回未取整的解码结果。
func (e *Engine) decryptRaw(ct *rlwe.Ciphertext) (v float64, err error) {
	defer func() {
		if p := recover(); p != nil {
			v = 0
			err = fmt.Errorf("decrypt failed, got panic: %v", p)
		}
	}()

	decryptor := ckks.NewDecryptor(e.params, e.keys.CKKSPrivateKey)
	pt := decryptor.DecryptNew(ct)
	decoded := e.encoder.Decode(pt, e.params.LogSlots())
	return real(decoded[0]), nil
}
