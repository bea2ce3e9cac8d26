// server.go 包括客户端与服务端交互的接口和函数

package clientlib

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/vaultpayload"
)

const (
	DefaultServerURL string = "http://127.0.0.1:16001"

	RegisterAccountEndpoint string = "/register/account"
	EnginePubkeyEndpoint    string = "/engine/pubkey"

	MintEndpoint         string = "/token/mint"
	SetOperatorEndpoint  string = "/token/setOperator"
	TokenBalanceEndpoint string = "/token/balance"

	StakeEndpoint           string = "/vault/stake"
	BorrowEndpoint          string = "/vault/borrow"
	RepayEndpoint           string = "/vault/repay"
	WithdrawEndpoint        string = "/vault/withdraw"
	StakedBalanceEndpoint   string = "/vault/balance/staked"
	BorrowedBalanceEndpoint string = "/vault/balance/borrowed"
	VaultInfoEndpoint       string = "/vault/info"
)

var (
	ConfigServerURL string = DefaultServerURL
)

// --- 注册部分 ---

// RegisterAccount 把账户的标识和公钥提交给服务端登记。
func (a *Account) RegisterAccount() error {
	request := new(vaultpayload.RegisterAccountReq)
	if a.Identifier == uuid.Nil {
		a.Identifier = uuid.New()
	}
	request.UUID = a.Identifier
	request.Name = a.Name

	if a.CKKSPublicKey() == nil || a.ECDSAPublicKey() == nil {
		return errors.New("account misses key chains, call GenerateKeys first")
	}
	pk, err := a.CKKSPublicKey().MarshalBinary()
	if err != nil {
		return err
	}
	request.CKKS_pubkey = base64.StdEncoding.EncodeToString(pk)
	request.ECDSA_pubkey = base64.StdEncoding.EncodeToString(
		key.MarshalECDSAPublicKey(a.ECDSAPublicKey()))

	jsonBytes, err := json.Marshal(request)
	if err != nil {
		return err
	}
	resp, err := http.Post(ConfigServerURL+RegisterAccountEndpoint, "application/json", bytes.NewBuffer(jsonBytes))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var jsonData map[string]interface{}
	if err = json.NewDecoder(resp.Body).Decode(&jsonData); err != nil {
		return err
	}
	return CheckIfOK(jsonData)
}

// FetchEnginePublicKey 从服务端取回引擎的 CKKS 公钥。
// 所有外部输入都必须加密到这把公钥上。
func FetchEnginePublicKey() (pk *rlwe.PublicKey, err error) {
	server, err := url.JoinPath(ConfigServerURL, EnginePubkeyEndpoint)
	if err != nil {
		return nil, err
	}

	resp, err := http.Get(server)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var jsonData map[string]interface{}
	if err = json.NewDecoder(resp.Body).Decode(&jsonData); err != nil {
		return nil, err
	}
	if err = CheckIfOK(jsonData); err != nil {
		return nil, err
	}

	pkString, ok := jsonData["pubkey"].(string)
	if !ok || pkString == "" {
		return nil, errors.New("engine pubkey not found in response")
	}
	pkBytes, err := base64.StdEncoding.DecodeString(pkString)
	if err != nil {
		return nil, err
	}
	return key.UnmarshalCKKSPublicKey(pkBytes)
}

// --- 代币部分 ---

// Mint 请求服务端为账户增发指定金额。开发环境下的水龙头。
func Mint(acct uuid.UUID, amount uint64) error {
	payload, err := json.Marshal(vaultpayload.MintReq{Account: acct, Amount: amount})
	if err != nil {
		return err
	}
	resp, err := http.Post(ConfigServerURL+MintEndpoint, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var jsonData map[string]interface{}
	if err = json.NewDecoder(resp.Body).Decode(&jsonData); err != nil {
		return err
	}
	return CheckIfOK(jsonData)
}

// SetOperator 请求服务端登记一条代币划转授权。
func SetOperator(owner, spender uuid.UUID, until int64) error {
	payload, err := json.Marshal(vaultpayload.OperatorReq{Owner: owner, Spender: spender, Until: until})
	if err != nil {
		return err
	}
	resp, err := http.Post(ConfigServerURL+SetOperatorEndpoint, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var jsonData map[string]interface{}
	if err = json.NewDecoder(resp.Body).Decode(&jsonData); err != nil {
		return err
	}
	return CheckIfOK(jsonData)
}

// VaultID 从服务端取回金库的主体标识，授权划转时作为 spender 使用。
func VaultID() (id uuid.UUID, err error) {
	server, err := url.JoinPath(ConfigServerURL, VaultInfoEndpoint)
	if err != nil {
		return uuid.Nil, err
	}

	resp, err := http.Get(server)
	if err != nil {
		return uuid.Nil, err
	}
	defer resp.Body.Close()

	var jsonData map[string]interface{}
	if err = json.NewDecoder(resp.Body).Decode(&jsonData); err != nil {
		return uuid.Nil, err
	}
	if err = CheckIfOK(jsonData); err != nil {
		return uuid.Nil, err
	}

	idString, ok := jsonData["vault"].(string)
	if !ok {
		return uuid.Nil, errors.New("vault id not found in response")
	}
	return uuid.Parse(idString)
}

// --- 金库变迁部分 ---

// Stake 发起质押。
func (a *Account) Stake(amount uint64, enginePk *rlwe.PublicKey) (transferred, newTotal fhe.Handle, err error) {
	return a.submitVaultOp(StakeEndpoint, amount, enginePk)
}

// Borrow 发起借款。
func (a *Account) Borrow(amount uint64, enginePk *rlwe.PublicKey) (transferred, newTotal fhe.Handle, err error) {
	return a.submitVaultOp(BorrowEndpoint, amount, enginePk)
}

// Repay 发起还款。
func (a *Account) Repay(amount uint64, enginePk *rlwe.PublicKey) (transferred, newTotal fhe.Handle, err error) {
	return a.submitVaultOp(RepayEndpoint, amount, enginePk)
}

// Withdraw 发起取回。
func (a *Account) Withdraw(amount uint64, enginePk *rlwe.PublicKey) (transferred, newTotal fhe.Handle, err error) {
	return a.submitVaultOp(WithdrawEndpoint, amount, enginePk)
}

// submitVaultOp 构造外部输入并提交一次金库变迁。
// 输入：端点，金额，引擎公钥
// 输出：实际划转句柄，新总额句柄，错误
func (a *Account) submitVaultOp(endpoint string, amount uint64, enginePk *rlwe.PublicKey) (transferred, newTotal fhe.Handle, err error) {
	ext, err := a.MakeExternalInput(amount, enginePk)
	if err != nil {
		return
	}

	payload, err := json.Marshal(vaultpayload.AmountOpReq{
		Account: a.Identifier,
		CT:      base64.StdEncoding.EncodeToString(ext.Ciphertext),
		Sig:     base64.StdEncoding.EncodeToString(ext.Signature),
	})
	if err != nil {
		return
	}

	resp, err := http.Post(ConfigServerURL+endpoint, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var jsonData map[string]interface{}
	if err = json.NewDecoder(resp.Body).Decode(&jsonData); err != nil {
		return
	}
	if err = CheckIfOK(jsonData); err != nil {
		return
	}

	transferred, err = extractHandle(jsonData, "transferred")
	if err != nil {
		return
	}
	newTotal, err = extractHandle(jsonData, "newTotal")
	return
}

// --- 余额披露部分 ---

// GetStakedBalance 取回账户质押额的披露密文。
func GetStakedBalance(acct uuid.UUID) (*rlwe.Ciphertext, error) {
	return getRevealedBalance(StakedBalanceEndpoint, acct)
}

// GetBorrowedBalance 取回账户借款额的披露密文。
func GetBorrowedBalance(acct uuid.UUID) (*rlwe.Ciphertext, error) {
	return getRevealedBalance(BorrowedBalanceEndpoint, acct)
}

// GetWalletBalance 取回账户代币余额的披露密文。
func GetWalletBalance(acct uuid.UUID) (*rlwe.Ciphertext, error) {
	return getRevealedBalance(TokenBalanceEndpoint, acct)
}

// getRevealedBalance 从服务端获取重加密到账户公钥上的余额密文。
// 一个可能返回的json：
// "status": "OK", "Failed"
// "balance": base64 编码的 rlwe.ciphertext
func getRevealedBalance(endpoint string, acct uuid.UUID) (balance *rlwe.Ciphertext, err error) {
	payload, err := json.Marshal(vaultpayload.BalanceReq{Account: acct})
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(ConfigServerURL+endpoint, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var jsonData map[string]interface{}
	if err = json.NewDecoder(resp.Body).Decode(&jsonData); err != nil {
		return nil, err
	}
	if err = CheckIfOK(jsonData); err != nil {
		return nil, err
	}

	balanceString, ok := jsonData["balance"].(string)
	if !ok || balanceString == "" {
		return nil, errors.New("balance not found")
	}
	balanceBytes, err := base64.StdEncoding.DecodeString(balanceString)
	if err != nil {
		return nil, err
	}
	return key.UnmarshalCKKSCipherText(balanceBytes)
}

// --- Helper Func 部分 ---

// 判断服务端返回的json是否是成功的
func CheckIfOK(jsonData map[string]interface{}) (err error) {
	status, ok := jsonData["status"].(string)
	if !ok {
		return errors.New("no status in response")
	}
	switch status {
	case "OK":
		return nil
	case "failed", "Failed", "FAILED":
		if msg, ok := jsonData["err"].(string); ok {
			return errors.New(msg)
		}
		return errors.New("request failed")
	default:
		return nil
	}
}

func extractHandle(jsonData map[string]interface{}, field string) (fhe.Handle, error) {
	s, ok := jsonData[field].(string)
	if !ok {
		return fhe.Handle{}, fmt.Errorf("no %v in response", field)
	}
	return fhe.ParseHandle(s)
}
