// 包 account 包含了账户的相关结构体和方法。
package account

import (
	"crypto/ecdsa"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/misc"
)

var (
	// 预设的 CKKS 安全参数
	ckksParams = misc.GetCKKSParams()
)

// Account 是方案中的账户，包含标识符、CKKS 密钥链和 ECDSA 密钥链。
// 因为一个账户可能存在多个密钥对，所以使用 Slice 来存储。
// 为实现简便，约定一个账户只持有一对 CKKS 和一对 ECDSA 密钥。
type Account struct {
	Identifier    uuid.UUID
	Name          string
	CKKSKeyChain  []key.CKKSKeyChain
	ECDSAKeyChain []key.ECDSAKeyChain
}

// NewAccount 生成一个新的空账户。
func NewAccount() *Account {
	acct := new(Account)
	acct.Identifier = uuid.New()
	return acct
}

// NewAccountWithName 生成一个带名字的新账户。
func NewAccountWithName(name string) *Account {
	acct := NewAccount()
	acct.Name = name
	return acct
}

// GenerateKeys 为账户生成两条新的密钥链。
func (acct *Account) GenerateKeys() error {
	chain, err := key.GenerateKeyChain(acct.Identifier)
	if err != nil {
		return err
	}
	acct.CKKSKeyChain = append(acct.CKKSKeyChain, chain.CKKSKeyChain)
	acct.ECDSAKeyChain = append(acct.ECDSAKeyChain, chain.ECDSAKeyChain)
	return nil
}

// --- 密钥导入部分 ---

// ImportCKKSSecretKey 导入 CKKS 私钥并推出对应公钥。
func (acct *Account) ImportCKKSSecretKey(sk *rlwe.SecretKey) error {
	keyGenerator := ckks.NewKeyGenerator(ckksParams)
	pk := keyGenerator.GenPublicKey(sk)
	acct.CKKSKeyChain = append(acct.CKKSKeyChain, key.CKKSKeyChain{
		Identifier:     acct.Identifier,
		CKKSPrivateKey: sk,
		CKKSPublicKey:  pk,
	})
	return nil
}

// ImportCKKSPublicKey 导入只含公钥的 CKKS 密钥链。
// 服务端登记对端账户时只有公钥可用。
func (acct *Account) ImportCKKSPublicKey(pk *rlwe.PublicKey) error {
	acct.CKKSKeyChain = append(acct.CKKSKeyChain, key.CKKSKeyChain{
		Identifier:    acct.Identifier,
		CKKSPublicKey: pk,
	})
	return nil
}

func (acct *Account) ImportECDSAPrivateKey(sk *ecdsa.PrivateKey) error {
	pk := sk.PublicKey
	acct.ECDSAKeyChain = append(acct.ECDSAKeyChain, key.ECDSAKeyChain{
		Identifier:      acct.Identifier,
		ECDSAPrivateKey: sk,
		ECDSAPublicKey:  &pk,
	})
	return nil
}

func (acct *Account) ImportECDSAPublicKey(pk *ecdsa.PublicKey) error {
	acct.ECDSAKeyChain = append(acct.ECDSAKeyChain, key.ECDSAKeyChain{
		Identifier:     acct.Identifier,
		ECDSAPublicKey: pk,
	})
	return nil
}

// --- 取用部分 ---

// CKKSPublicKey 返回账户的 CKKS 公钥，没有密钥链时返回 nil。
func (acct *Account) CKKSPublicKey() *rlwe.PublicKey {
	if len(acct.CKKSKeyChain) == 0 {
		return nil
	}
	return acct.CKKSKeyChain[0].CKKSPublicKey
}

// CKKSSecretKey 返回账户的 CKKS 私钥，没有时返回 nil。
func (acct *Account) CKKSSecretKey() *rlwe.SecretKey {
	if len(acct.CKKSKeyChain) == 0 {
		return nil
	}
	return acct.CKKSKeyChain[0].CKKSPrivateKey
}

// ECDSAPublicKey 返回账户的 ECDSA 公钥，没有时返回 nil。
func (acct *Account) ECDSAPublicKey() *ecdsa.PublicKey {
	if len(acct.ECDSAKeyChain) == 0 {
		return nil
	}
	return acct.ECDSAKeyChain[0].ECDSAPublicKey
}

// ECDSAPrivateKey 返回账户的 ECDSA 私钥，没有时返回 nil。
func (acct *Account) ECDSAPrivateKey() *ecdsa.PrivateKey {
	if len(acct.ECDSAKeyChain) == 0 {
		return nil
	}
	return acct.ECDSAKeyChain[0].ECDSAPrivateKey
}
