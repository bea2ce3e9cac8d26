package clientlib

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/account"
	"github.com/MikuraDev/Mikura/internal/fhe"
)

// 继承 account.Account
type Account struct {
	// 集成
	account.Account
}

// NewAccount 生成一个带名字和新密钥链的客户端账户。
func NewAccount(name string) (*Account, error) {
	acct := &Account{Account: *account.NewAccountWithName(name)}
	if err := acct.GenerateKeys(); err != nil {
		return nil, err
	}
	return acct, nil
}

// --- 外部输入部分 ---

// MakeExternalInput 构造一个外部加密输入：
// 把金额加密到引擎公钥上，再用账户的 ECDSA 私钥对密文字节签名。
// 签名是账户对这笔输入的所有权证明。
func (a *Account) MakeExternalInput(amount uint64, enginePk *rlwe.PublicKey) (*fhe.ExternalCiphertext, error) {
	if enginePk == nil {
		return nil, errors.New("no engine public key found")
	}
	if err := a.checkSignAvailability(); err != nil {
		return nil, err
	}

	ct := CKKSEncryptAmount(amount, enginePk)
	ctBytes, err := ct.MarshalBinary()
	if err != nil {
		return nil, err
	}
	sig, err := signByte(ctBytes, a.ECDSAPrivateKey())
	if err != nil {
		return nil, err
	}

	return &fhe.ExternalCiphertext{
		Account:    a.Identifier,
		Ciphertext: ctBytes,
		Signature:  sig,
	}, nil
}

// --- 签名部分 ---

// SignCipherText 对密文进行签名
func (a *Account) SignCipherText(ct *rlwe.Ciphertext) (sig []byte, e error) {
	// 检查是否可以签名
	if e = a.checkSignAvailability(); e != nil {
		return nil, e
	}

	msg, err := ct.MarshalBinary()
	if err != nil {
		return nil, err
	}

	sig, e = signByte(msg, a.ECDSAPrivateKey())
	return
}

// signByte() 是一个 Low-level 签名方法
func signByte(msg []byte, key *ecdsa.PrivateKey) (sig []byte, e error) {
	hash := sha256.Sum256(msg)
	sig, e = ecdsa.SignASN1(rand.Reader, key, hash[:])

	return
}

// checkSignAvailability() 检查是否可以签名
func (a *Account) checkSignAvailability() (e error) {
	if len(a.ECDSAKeyChain) == 0 {
		return errors.New("no ECDSA KeyChain found")
	}
	if a.ECDSAPrivateKey() == nil {
		return errors.New("no ECDSA Private Key found")
	}
	return nil
}

// VerifySignature 是 Low-level 验证签名方法
func (a *Account) VerifySignature(payload []byte, sig []byte) (bool, error) {
	if a.ECDSAPublicKey() == nil {
		return false, errors.New("no ECDSA Public Key found")
	}
	hash := sha256.Sum256(payload)
	return ecdsa.VerifyASN1(a.ECDSAPublicKey(), hash[:], sig), nil
}

// --- 解密部分 ---

// DecryptAmountFromCT 用账户的 CKKS 私钥解出披露密文中的金额。
func (a *Account) DecryptAmountFromCT(ct *rlwe.Ciphertext) (amount uint64, err error) {
	if len(a.CKKSKeyChain) == 0 {
		return 0, errors.New("no CKKS KeyChain found")
	}
	if a.CKKSSecretKey() == nil {
		return 0, errors.New("no CKKS Private Key found")
	}

	return CKKSDecryptAmountFromCT(ct, a.CKKSSecretKey()), nil
}
