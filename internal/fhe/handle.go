// 包 fhe 实现了金库方案使用的加密算术引擎。
//
// 引擎用 32 字节句柄指代密文值。句柄本身不携带任何明文信息，
// 值只存在于引擎内部的密封存储中；值跨出引擎边界时一律以
// CKKS 密文形式出现（外部输入、余额披露、落盘密封）。
package fhe

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// 句柄末字节标记密文的类型。
const (
	KindUint64 byte = 0x01
	KindBool   byte = 0x02
)

// Handle 是对一个密文值的不透明引用。全零句柄固定指代金额零。
type Handle [32]byte

// newHandle 从随机 UUID 派生新句柄，末字节写入类型标记。
func newHandle(kind byte) Handle {
	var h Handle
	id := uuid.New()
	shake := sha3.NewShake256()
	shake.Write(id[:])
	shake.Write([]byte("Mikura/handle/v1"))
	shake.Read(h[:31])
	h[31] = kind
	return h
}

// Zero 返回指代金额零的规范句柄。
func Zero() Handle {
	return Handle{}
}

func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Kind 返回句柄的类型标记。
func (h Handle) Kind() byte {
	if h.IsZero() {
		return KindUint64
	}
	return h[31]
}

func (h Handle) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHandle 从十六进制字符串解析句柄。
func ParseHandle(s string) (Handle, error) {
	var h Handle
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("handle should be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
