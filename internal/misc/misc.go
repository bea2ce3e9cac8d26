package misc

import (
	"crypto/rand"
	"math/big"

	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"
)

// GetCKKSParams 返回全项目统一使用的 CKKS 参数。
// 客户端和引擎必须使用同一组参数，否则密文无法互相运算。
func GetCKKSParams() ckks.Parameters {
	params, err := ckks.NewParametersFromLiteral(ckks.PN12QP109)
	if err != nil {
		panic(err)
	}
	return params
}

// NewCiphertext 创建新的密文
func NewCiphertext() *rlwe.Ciphertext {
	params := GetCKKSParams()
	ct := ckks.NewCiphertext(params, 1, params.MaxLevel())
	return ct
}

// GenRandAmount 生成 [0, max) 范围内的随机金额，供测试和基准测试使用。
func GenRandAmount(max uint64) uint64 {
	randInt, _ := rand.Int(rand.Reader, new(big.Int).SetUint64(max))
	return randInt.Uint64()
}
