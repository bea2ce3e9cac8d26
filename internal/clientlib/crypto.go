// crypto.go: 密码学相关的函数和结构体

package clientlib

import (
	"crypto/elliptic"

	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/misc"
)

// CKKS 安全参数和公用结构体
var (
	CKKSEncoder ckks.Encoder
	CKKSParams  ckks.Parameters
	// 方案中使用 P-256 作为曲线参数
	ECDSACurve elliptic.Curve = elliptic.P256()
)

// 对参数等进行初始化
func CryptoInit() (err error) {
	// 参数初始化
	CKKSParams = misc.GetCKKSParams()

	// 编码器初始化
	CKKSEncoder = ckks.NewEncoder(CKKSParams)

	return
}

// CKKSEncryptAmount 对金额进行基于 CKKS 的加密
// 输入：金额，公钥（通常是引擎公钥）
// 输出：密文（rlwe.ct）
func CKKSEncryptAmount(amount uint64, pk *rlwe.PublicKey) *rlwe.Ciphertext {
	params := misc.GetCKKSParams()
	encoder := ckks.NewEncoder(params)
	amountSlice := []float64{float64(amount)}
	pt := encoder.EncodeNew(
		amountSlice,
		params.MaxLevel(),
		params.DefaultScale(),
		params.LogSlots())
	ct := ckks.NewEncryptor(params, pk).EncryptNew(pt)

	return ct
}

// CKKSDecryptAmountFromCT 从密文中提取加密的金额
// 输入：密文（ct），私钥
// 输出：金额（uint64）
func CKKSDecryptAmountFromCT(ct *rlwe.Ciphertext, sk *rlwe.SecretKey) uint64 {
	params := misc.GetCKKSParams()
	encoder := ckks.NewEncoder(params)
	decryptor := ckks.NewDecryptor(params, sk)

	pt := decryptor.DecryptNew(ct)
	amount := encoder.Decode(pt, params.LogSlots())

	return misc.RoundAmount(real(amount[0]))
}
