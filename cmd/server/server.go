package main

import (
	"database/sql"
	"log"
	"net/http"
	"os"

	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/token"
	"github.com/MikuraDev/Mikura/internal/vault"
)

var (
	CriticalLogger log.Logger
	ErrorLogger    log.Logger
	WarningLogger  log.Logger
	InfoLogger     log.Logger
	DebugLogger    log.Logger
)

var (
	Database *sql.DB
	Engine   *fhe.Engine
	Token    *token.Token
	Vault    *vault.Ledger
)

const (
	DefaultListenPort = "16001"
	DefaultVersion    = "indev"
	DefaultListenAddr = "127.0.0.1"
)

var (
	ConfigListenAddr = DefaultListenAddr
	ConfigListenPort = DefaultListenPort
	ConfigVersion    = DefaultVersion
)

func loggerInit() {
	CriticalLogger = *log.New(os.Stderr, "CRITICAL: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = *log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	WarningLogger = *log.New(os.Stderr, "WARNING: ", log.Ldate|log.Ltime|log.Lshortfile)
	InfoLogger = *log.New(os.Stdout, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	DebugLogger = *log.New(os.Stdout, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	var err error
	loggerInit()

	InfoLogger.Printf("Project Mikura Server Version %s", ConfigVersion)

	http.HandleFunc("/", HandleNotFound)
	http.HandleFunc("/version", HandlerVersion)

	// 注册部分
	http.HandleFunc("/register/account", HandlerRegisterAccount)
	http.HandleFunc("/engine/pubkey", HandlerEnginePubkey)

	// 代币部分
	http.HandleFunc("/token/mint", HandlerTokenMint)
	http.HandleFunc("/token/setOperator", HandlerTokenSetOperator)
	http.HandleFunc("/token/balance", HandlerTokenBalance)

	// 金库部分
	http.HandleFunc("/vault/stake", HandlerVaultStake)
	http.HandleFunc("/vault/borrow", HandlerVaultBorrow)
	http.HandleFunc("/vault/repay", HandlerVaultRepay)
	http.HandleFunc("/vault/withdraw", HandlerVaultWithdraw)
	http.HandleFunc("/vault/balance/staked", HandlerVaultStakedBalance)
	http.HandleFunc("/vault/balance/borrowed", HandlerVaultBorrowedBalance)
	http.HandleFunc("/vault/info", HandlerVaultInfo)

	if Database, err = InitDatabase(); err != nil {
		CriticalLogger.Fatal(err.Error())
	}

	defer Database.Close()

	if err = LoadState(); err != nil {
		CriticalLogger.Fatal(err.Error())
	}

	InfoLogger.Printf("Vault identity: %v", Vault.ID())
	InfoLogger.Printf("Listening: %v", ConfigListenAddr+":"+ConfigListenPort)
	if err := http.ListenAndServe(ConfigListenAddr+":"+ConfigListenPort, nil); err != nil {
		log.Fatal(err)
	}
}
