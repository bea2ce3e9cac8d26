// 包 key 包含了方案中用到的各种密码学密钥的生成与序列化。
//
// 每个账户持有两条密钥链：CKKS 密钥链用于接收引擎重加密的余额密文，
// ECDSA 密钥链用于对外部输入密文签名。
package key

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/misc"
)

var (
	// 预设的 CKKS 安全参数
	params = misc.GetCKKSParams()

	// SigningCurve 是外部输入签名使用的曲线。
	SigningCurve elliptic.Curve = elliptic.P256()
)

type CKKSKeyChain struct {
	Identifier     uuid.UUID
	CKKSPrivateKey *rlwe.SecretKey
	CKKSPublicKey  *rlwe.PublicKey
}

type ECDSAKeyChain struct {
	Identifier      uuid.UUID
	ECDSAPrivateKey *ecdsa.PrivateKey
	ECDSAPublicKey  *ecdsa.PublicKey
}

type KeyChain struct {
	CKKSKeyChain  CKKSKeyChain
	ECDSAKeyChain ECDSAKeyChain
}

// GenerateCKKSKeyChain 生成一条新的 CKKS 密钥链。
func GenerateCKKSKeyChain(id uuid.UUID) CKKSKeyChain {
	kgen := ckks.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPair()

	return CKKSKeyChain{
		Identifier:     id,
		CKKSPrivateKey: sk,
		CKKSPublicKey:  pk,
	}
}

// GenerateECDSAKeyChain 生成一条用于签名外部输入的 ECDSA 密钥链。
func GenerateECDSAKeyChain(id uuid.UUID) (ECDSAKeyChain, error) {
	sk, err := ecdsa.GenerateKey(SigningCurve, rand.Reader)
	if err != nil {
		return ECDSAKeyChain{}, err
	}

	return ECDSAKeyChain{
		Identifier:      id,
		ECDSAPrivateKey: sk,
		ECDSAPublicKey:  &sk.PublicKey,
	}, nil
}

// GenerateKeyChain 同时生成 CKKS 和 ECDSA 两条密钥链。
func GenerateKeyChain(id uuid.UUID) (KeyChain, error) {
	ecdsaChain, err := GenerateECDSAKeyChain(id)
	if err != nil {
		return KeyChain{}, err
	}

	return KeyChain{
		CKKSKeyChain:  GenerateCKKSKeyChain(id),
		ECDSAKeyChain: ecdsaChain,
	}, nil
}
