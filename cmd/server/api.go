package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/MikuraDev/Mikura/internal/account"
	"github.com/MikuraDev/Mikura/internal/db"
	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/vaultpayload"
	"github.com/google/uuid"
)

func HandleNotFound(w http.ResponseWriter, req *http.Request) {
	returnFailure(w, req, fmt.Errorf("function not found: "+req.RequestURI), 404)
}

// Generic failure
func returnFailure(w http.ResponseWriter, req *http.Request, err error, statusCode int) {
	resp := make(map[string]interface{})
	resp["status"] = "failed"
	resp["err"] = err.Error()

	respJSON, _ := json.Marshal(resp)

	w.WriteHeader(statusCode)
	w.Write(respJSON)
	ErrorLogger.Println("Error: " + err.Error())
}

// 成功时统一的返回出口
func returnOK(w http.ResponseWriter, req *http.Request, respData map[string]interface{}) {
	respData["status"] = "OK"

	respJSON, err := json.Marshal(respData)
	if err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(200)
	w.Write(respJSON)
}

// Handle /version request
func HandlerVersion(w http.ResponseWriter, req *http.Request) {
	respJSON := make(map[string]interface{})
	respJSON["status"] = "OK"
	respJSON["version"] = ConfigVersion

	respByte, _ := json.Marshal(respJSON)

	w.Write(respByte)
}

// --- 注册部分 ---

// Handle /register/account
func HandlerRegisterAccount(w http.ResponseWriter, req *http.Request) {
	InfoLogger.Print("Received new /register/account")
	var err error

	request := new(vaultpayload.RegisterAccountReq)
	err = json.NewDecoder(req.Body).Decode(request)
	if err != nil {
		returnFailure(w, req, err, 400)
		return
	}

	acctName := request.Name
	acctUUID := request.UUID
	if acctUUID == uuid.Nil {
		returnFailure(w, req, fmt.Errorf("account uuid missing"), 400)
		return
	}

	// Parse CKKS and ECDSA Public Key
	ckksPubkeyBytes, err := decodeBase64Field(request.CKKS_pubkey, "ckks pubkey")
	if err != nil {
		returnFailure(w, req, err, 400)
		return
	}
	ckksPubkey, err := key.UnmarshalCKKSPublicKey(ckksPubkeyBytes)
	if err != nil {
		returnFailure(w, req,
			fmt.Errorf("ckks pubkey parse failed: "+err.Error()), 400)
		return
	}

	ecdsaPubkeyBytes, err := decodeBase64Field(request.ECDSA_pubkey, "ecdsa pubkey")
	if err != nil {
		returnFailure(w, req, err, 400)
		return
	}
	ecdsaPubkey, err := key.UnmarshalECDSAPublicKey(ecdsaPubkeyBytes)
	if err != nil {
		returnFailure(w, req,
			fmt.Errorf("ecdsa pubkey parse failed: "+err.Error()), 400)
		return
	}

	// 在引擎中登记主体，然后写入数据库
	acct := account.NewAccountWithName(acctName)
	acct.Identifier = acctUUID
	acct.ImportCKKSPublicKey(ckksPubkey)
	acct.ImportECDSAPublicKey(ecdsaPubkey)

	Engine.RegisterPrincipal(acct.Identifier, ckksPubkey, ecdsaPubkey)

	if err = db.PutAccountColumn(Database, acct); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	returnOK(w, req, make(map[string]interface{}))
	InfoLogger.Print("Processed new /register/account, uuid = " + acctUUID.String())
}

// Handle /engine/pubkey
// 返回引擎的 CKKS 公钥，外部输入都要加密到这把公钥上
func HandlerEnginePubkey(w http.ResponseWriter, req *http.Request) {
	pkBytes, err := Engine.PublicKey().MarshalBinary()
	if err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	respData := make(map[string]interface{})
	respData["pubkey"] = base64.StdEncoding.EncodeToString(pkBytes)
	returnOK(w, req, respData)
}

// --- 代币部分 ---

// Handle /token/mint
// 增发金额是公开明文，生成的余额句柄和密封值落盘
func HandlerTokenMint(w http.ResponseWriter, req *http.Request) {
	InfoLogger.Print("Received new /token/mint")
	var err error

	request := new(vaultpayload.MintReq)
	if err = json.NewDecoder(req.Body).Decode(request); err != nil {
		returnFailure(w, req, err, 400)
		return
	}

	newBalance, err := Token.Mint(request.Account, request.Amount)
	if err != nil {
		returnFailure(w, req, err, 400)
		return
	}

	if err = persistTokenAccount(request.Account); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}
	if err = db.PutMetaColumn(Database, "minted",
		strconv.FormatUint(Token.Minted(), 10)); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	respData := make(map[string]interface{})
	respData["newBalance"] = newBalance.String()
	returnOK(w, req, respData)
	InfoLogger.Printf("Processed new /token/mint, uuid = %v, amount = %v",
		request.Account, request.Amount)
}

// Handle /token/setOperator
func HandlerTokenSetOperator(w http.ResponseWriter, req *http.Request) {
	InfoLogger.Print("Received new /token/setOperator")
	var err error

	request := new(vaultpayload.OperatorReq)
	if err = json.NewDecoder(req.Body).Decode(request); err != nil {
		returnFailure(w, req, err, 400)
		return
	}
	if request.Owner == uuid.Nil || request.Spender == uuid.Nil {
		returnFailure(w, req, fmt.Errorf("owner or spender missing"), 400)
		return
	}

	Token.SetOperator(request.Owner, request.Spender, request.Until)

	if err = db.PutOperatorColumn(Database, request.Owner, request.Spender, request.Until); err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	returnOK(w, req, make(map[string]interface{}))
	InfoLogger.Printf("Processed new /token/setOperator, owner = %v, spender = %v",
		request.Owner, request.Spender)
}

// --- 余额披露部分 ---

// Handle /token/balance
func HandlerTokenBalance(w http.ResponseWriter, req *http.Request) {
	revealBalance(w, req, Token.BalanceHandle)
}

// Handle /vault/balance/staked
func HandlerVaultStakedBalance(w http.ResponseWriter, req *http.Request) {
	revealBalance(w, req, Vault.StakedBalance)
}

// Handle /vault/balance/borrowed
func HandlerVaultBorrowedBalance(w http.ResponseWriter, req *http.Request) {
	revealBalance(w, req, Vault.BorrowedBalance)
}

// revealBalance 把余额句柄重加密到账户自己的公钥上返回。
// 引擎在披露前检查授权，没有授权的主体拿不到密文。
func revealBalance(w http.ResponseWriter, req *http.Request, balanceOf func(uuid.UUID) fhe.Handle) {
	var err error

	request := new(vaultpayload.BalanceReq)
	if err = json.NewDecoder(req.Body).Decode(request); err != nil {
		returnFailure(w, req, err, 400)
		return
	}

	ct, err := Engine.Reveal(balanceOf(request.Account), request.Account)
	if err != nil {
		returnFailure(w, req, err, http.StatusUnauthorized)
		return
	}

	ctBytes, err := ct.MarshalBinary()
	if err != nil {
		returnFailure(w, req, err, http.StatusInternalServerError)
		return
	}

	respData := make(map[string]interface{})
	respData["balance"] = base64.StdEncoding.EncodeToString(ctBytes)
	returnOK(w, req, respData)
}

// Handle /vault/info
func HandlerVaultInfo(w http.ResponseWriter, req *http.Request) {
	respData := make(map[string]interface{})
	respData["vault"] = Vault.ID().String()
	returnOK(w, req, respData)
}
