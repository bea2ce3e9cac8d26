package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/vault"
	"github.com/MikuraDev/Mikura/internal/vaultpayload"
)

// decodeVaultOpRequest 解出请求中的外部加密输入。
// 输入的验证交给引擎：签名不对、主体不明、重复提交的密文
// 都在 FromExternal 里被拒绝。
func decodeVaultOpRequest(req *http.Request) (ext *fhe.ExternalCiphertext, err error) {
	request := new(vaultpayload.AmountOpReq)
	if err = json.NewDecoder(req.Body).Decode(request); err != nil {
		return nil, err
	}

	ctBytes, err := decodeBase64Field(request.CT, "ciphertext")
	if err != nil {
		return nil, err
	}
	sigBytes, err := decodeBase64Field(request.Sig, "signature")
	if err != nil {
		return nil, err
	}

	return &fhe.ExternalCiphertext{
		Account:    request.Account,
		Ciphertext: ctBytes,
		Signature:  sigBytes,
	}, nil
}

// statusForVaultError 把变迁失败映射到 HTTP 状态码。
// 所有权证明失败是 401，金额越界和划转失败是 400。
func statusForVaultError(err error) int {
	switch {
	case errors.Is(err, fhe.ErrInvalidProof):
		return http.StatusUnauthorized
	case errors.Is(err, fhe.ErrAmountRange):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrTransferFailed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Handle /vault/stake request
func HandlerVaultStake(w http.ResponseWriter, req *http.Request) {
	InfoLogger.Print("New incoming /vault/stake request")

	ext, err := decodeVaultOpRequest(req)
	if err != nil {
		returnFailure(w, req, err, http.StatusBadRequest)
		return
	}

	transferred, newTotal, err := Vault.Stake(ext.Account, ext)
	if err != nil {
		returnFailure(w, req, err, statusForVaultError(err))
		return
	}

	if err = persistAfterVaultOp(ext.Account, transferred); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	respData := make(map[string]interface{})
	respData["transferred"] = transferred.String()
	respData["newTotal"] = newTotal.String()
	returnOK(w, req, respData)
	InfoLogger.Print("Proceeded /vault/stake request")
}

// Handle /vault/borrow request
func HandlerVaultBorrow(w http.ResponseWriter, req *http.Request) {
	InfoLogger.Print("New incoming /vault/borrow request")

	ext, err := decodeVaultOpRequest(req)
	if err != nil {
		returnFailure(w, req, err, http.StatusBadRequest)
		return
	}

	// 超出质押额的请求不会报错，实际划转额会是密文下的零
	transferred, newTotal, err := Vault.Borrow(ext.Account, ext)
	if err != nil {
		returnFailure(w, req, err, statusForVaultError(err))
		return
	}

	if err = persistAfterVaultOp(ext.Account, transferred); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	respData := make(map[string]interface{})
	respData["transferred"] = transferred.String()
	respData["newTotal"] = newTotal.String()
	returnOK(w, req, respData)
	InfoLogger.Print("Proceeded /vault/borrow request")
}

// Handle /vault/repay request
func HandlerVaultRepay(w http.ResponseWriter, req *http.Request) {
	InfoLogger.Print("New incoming /vault/repay request")

	ext, err := decodeVaultOpRequest(req)
	if err != nil {
		returnFailure(w, req, err, http.StatusBadRequest)
		return
	}

	transferred, newTotal, err := Vault.Repay(ext.Account, ext)
	if err != nil {
		returnFailure(w, req, err, statusForVaultError(err))
		return
	}

	if err = persistAfterVaultOp(ext.Account, transferred); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	respData := make(map[string]interface{})
	respData["transferred"] = transferred.String()
	respData["newTotal"] = newTotal.String()
	returnOK(w, req, respData)
	InfoLogger.Print("Proceeded /vault/repay request")
}

// Handle /vault/withdraw request
func HandlerVaultWithdraw(w http.ResponseWriter, req *http.Request) {
	InfoLogger.Print("New incoming /vault/withdraw request")

	ext, err := decodeVaultOpRequest(req)
	if err != nil {
		returnFailure(w, req, err, http.StatusBadRequest)
		return
	}

	transferred, newTotal, err := Vault.Withdraw(ext.Account, ext)
	if err != nil {
		returnFailure(w, req, err, statusForVaultError(err))
		return
	}

	if err = persistAfterVaultOp(ext.Account, transferred); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	respData := make(map[string]interface{})
	respData["transferred"] = transferred.String()
	respData["newTotal"] = newTotal.String()
	returnOK(w, req, respData)
	InfoLogger.Print("Proceeded /vault/withdraw request")
}
