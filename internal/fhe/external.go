package fhe

import (
	"crypto/ecdsa"
	"crypto/sha256"

	"github.com/google/uuid"

	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/misc"
)

// ExternalCiphertext 是账户提交给引擎的外部加密输入。
// Ciphertext 是加密到引擎公钥上的 CKKS 密文字节，
// Signature 是账户 ECDSA 私钥对这些字节的签名，充当所有权证明。
type ExternalCiphertext struct {
	Account    uuid.UUID `json:"account"`
	Ciphertext []byte    `json:"ciphertext"`
	Signature  []byte    `json:"signature"`
}

// FromExternal 验证外部输入并把金额落入密封存储，签发新句柄。
// 证明验证失败一律返回 ErrInvalidProof；金额越界返回 ErrAmountRange。
func (e *Engine) FromExternal(ext *ExternalCiphertext) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ext == nil {
		return Handle{}, ErrInvalidProof
	}

	reg, ok := e.principals[ext.Account]
	if !ok || reg.ecdsaPub == nil {
		return Handle{}, ErrInvalidProof
	}
	if !validateSignature(ext.Ciphertext, ext.Signature, reg.ecdsaPub) {
		return Handle{}, ErrInvalidProof
	}

	ct, err := key.UnmarshalCKKSCipherText(ext.Ciphertext)
	if err != nil {
		return Handle{}, ErrInvalidProof
	}
	raw, err := e.decryptRaw(ct)
	if err != nil {
		return Handle{}, ErrInvalidProof
	}
	// 解码结果带噪声，容差半个单位
	if raw < -0.5 || raw > float64(MaxAmount)+0.5 {
		return Handle{}, ErrAmountRange
	}

	return e.issue(misc.RoundAmount(raw), KindUint64), nil
}

// validateSignature
// 输入密文字节、签名和公钥
// 输出验证结果
func validateSignature(msg, sig []byte, pk *ecdsa.PublicKey) bool {
	hash := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(pk, hash[:], sig)
}
