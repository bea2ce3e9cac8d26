package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	database "github.com/MikuraDev/Mikura/internal/db"
	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/token"
	"github.com/MikuraDev/Mikura/internal/vault"
	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

const (
	DefaultDatabaseDirPath  string = "/.config/Mikura/"
	DefaultDatabaseFileName string = "server.db"
)

var (
	homedir, _                = os.UserHomeDir()
	ConfigDatabasePath string = homedir + DefaultDatabaseDirPath + DefaultDatabaseFileName
)

// 已经落盘的最大事件序号
var lastPersistedSeq uint64

func InitDatabase() (db *sql.DB, err error) {
	if _, err = os.Stat(ConfigDatabasePath); os.IsNotExist(err) {
		if ConfigDatabasePath == homedir+DefaultDatabaseDirPath+DefaultDatabaseFileName {
			// 创建这么一个文件夹
			err = os.MkdirAll(homedir+DefaultDatabaseDirPath, 0700)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}

	}

	return initDatabase(ConfigDatabasePath)
}

func initDatabase(path string) (db *sql.DB, err error) {
	// 打开/创建数据库
	db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA foreign_keys = ON;")

	// 建立账户表
	DebugLogger.Println("Database: Initializing Account")
	_, err = db.Exec(database.CreateAccountTable())
	if err != nil {
		ErrorLogger.Println(err.Error())
		return nil, err
	}

	// 建立金库余额表
	DebugLogger.Println("Database: Initializing VaultBalance")
	_, err = db.Exec(database.CreateVaultBalanceTable())
	if err != nil {
		return nil, err
	}

	// 建立代币余额表
	DebugLogger.Println("Database: Initializing TokenBalance")
	_, err = db.Exec(database.CreateTokenBalanceTable())
	if err != nil {
		return nil, err
	}

	// 建立密封值表
	DebugLogger.Println("Database: Initializing SealedValue")
	_, err = db.Exec(database.CreateSealedValueTable())
	if err != nil {
		return nil, err
	}

	// 建立授权表
	DebugLogger.Println("Database: Initializing Grant")
	_, err = db.Exec(database.CreateGrantTable())
	if err != nil {
		return nil, err
	}

	// 建立事件表
	DebugLogger.Println("Database: Initializing Event")
	_, err = db.Exec(database.CreateEventTable())
	if err != nil {
		return nil, err
	}

	// 建立划转授权表
	DebugLogger.Println("Database: Initializing Operator")
	_, err = db.Exec(database.CreateOperatorTable())
	if err != nil {
		return nil, err
	}

	// 建立引擎密钥表
	DebugLogger.Println("Database: Initializing EngineKey")
	_, err = db.Exec(database.CreateEngineKeyTable())
	if err != nil {
		return nil, err
	}

	DebugLogger.Println("Database: Initializing Meta")
	_, err = db.Exec(database.CreateMetaTable())
	if err != nil {
		return nil, err
	}

	return
}

// --- 状态恢复部分 ---

// LoadState 从数据库恢复引擎、代币账本和金库。
// 顺序：引擎密钥，账户主体，金库主体，密封值，授权，
// 余额，事件日志，划转授权和发行量。
func LoadState() (err error) {
	// 引擎密钥：有记录则复用，否则新生成并落盘。
	// 复用密钥才能解开之前落盘的密封值。
	chain, err := database.GetEngineKeys(Database)
	switch {
	case err == nil:
		Engine = fhe.NewEngineWithKeys(chain)
		InfoLogger.Print("Loaded engine keys from database")
	case errors.Is(err, sql.ErrNoRows):
		Engine = fhe.NewEngine()
		if err = database.PutEngineKeysColumn(Database, Engine.Keys()); err != nil {
			return err
		}
		InfoLogger.Print("Generated new engine keys")
	default:
		return err
	}

	if Token, err = token.New(Engine); err != nil {
		return err
	}

	// 金库主体标识必须和授权记录里的保持一致
	vaultIDStr, err := database.GetMeta(Database, "vault_id")
	if err != nil {
		return err
	}
	if vaultIDStr == "" {
		if Vault, err = vault.NewLedger(Engine, Token); err != nil {
			return err
		}
		if err = database.PutMetaColumn(Database, "vault_id", Vault.ID().String()); err != nil {
			return err
		}
	} else {
		vaultID, err := uuid.Parse(vaultIDStr)
		if err != nil {
			return err
		}
		if Vault, err = vault.NewLedgerWithID(Engine, Token, vaultID); err != nil {
			return err
		}
	}

	// 账户主体
	accts, err := database.GetAccounts(Database)
	if err != nil {
		return err
	}
	for _, acct := range accts {
		Engine.RegisterPrincipal(acct.Identifier, acct.CKKSPublicKey(), acct.ECDSAPublicKey())
	}

	// 密封值。必须先于授权恢复
	sealed, err := database.GetSealedValues(Database)
	if err != nil {
		return err
	}
	for _, v := range sealed {
		if err = Engine.Unseal(v.Handle, v.Kind, v.Sealed); err != nil {
			return err
		}
	}

	// 授权
	grants, err := database.GetGrants(Database)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if err = Engine.Allow(g.Handle, g.Principal); err != nil {
			return err
		}
	}

	// 余额句柄
	for _, acct := range accts {
		staked, borrowed, err := database.GetVaultBalance(Database, acct.Identifier)
		if err != nil {
			return err
		}
		if !staked.IsZero() || !borrowed.IsZero() {
			Vault.RestoreBalances(acct.Identifier, staked, borrowed)
		}

		balance, err := database.GetTokenBalance(Database, acct.Identifier)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			Token.RestoreBalance(acct.Identifier, balance)
		}
	}

	// 金库托管的代币
	vaultBalance, err := database.GetTokenBalance(Database, Vault.ID())
	if err != nil {
		return err
	}
	if !vaultBalance.IsZero() {
		Token.RestoreBalance(Vault.ID(), vaultBalance)
	}

	// 事件日志
	events, err := database.GetEvents(Database)
	if err != nil {
		return err
	}
	Vault.RestoreEvents(events)
	lastPersistedSeq = 0
	for _, ev := range events {
		if ev.Seq > lastPersistedSeq {
			lastPersistedSeq = ev.Seq
		}
	}

	// 划转授权和发行量
	ops, err := database.GetOperators(Database)
	if err != nil {
		return err
	}
	for _, op := range ops {
		Token.RestoreOperator(op.Owner, op.Spender, op.Until)
	}

	mintedStr, err := database.GetMeta(Database, "minted")
	if err != nil {
		return err
	}
	if mintedStr != "" {
		minted, err := strconv.ParseUint(mintedStr, 10, 64)
		if err != nil {
			return err
		}
		Token.RestoreMinted(minted)
	}

	InfoLogger.Printf("Restored %v accounts, %v sealed values, %v events",
		len(accts), len(sealed), len(events))
	return nil
}

// --- 落盘部分 ---

// persistHandle 落盘句柄的密封值和全部授权。零句柄跳过。
func persistHandle(h fhe.Handle) (err error) {
	if h.IsZero() {
		return nil
	}

	sealed, err := Engine.Seal(h)
	if err != nil {
		return err
	}
	if err = database.PutSealedValueColumn(Database, h, h.Kind(), sealed); err != nil {
		return err
	}

	for _, principal := range Engine.Grants(h) {
		if err = database.PutGrantColumn(Database, h, principal); err != nil {
			return err
		}
	}
	return nil
}

// persistVaultAccount 落盘账户的质押与借款句柄。
func persistVaultAccount(acct uuid.UUID) (err error) {
	staked := Vault.StakedBalance(acct)
	borrowed := Vault.BorrowedBalance(acct)

	if err = persistHandle(staked); err != nil {
		return err
	}
	if err = persistHandle(borrowed); err != nil {
		return err
	}
	return database.PutVaultBalanceColumn(Database, acct, staked, borrowed)
}

// persistTokenAccount 落盘账户的代币余额句柄。
func persistTokenAccount(acct uuid.UUID) (err error) {
	balance := Token.BalanceHandle(acct)
	if balance.IsZero() {
		return nil
	}

	if err = persistHandle(balance); err != nil {
		return err
	}
	return database.PutTokenBalanceColumn(Database, acct, balance)
}

// persistEvents 追加落盘还没写入的事件。
func persistEvents() (err error) {
	for _, ev := range Vault.EventsSince(lastPersistedSeq) {
		if err = database.PutEventColumn(Database, ev); err != nil {
			return err
		}
		lastPersistedSeq = ev.Seq
	}
	return nil
}

// persistAfterVaultOp 落盘一次变迁涉及的全部状态：
// 额外句柄（实际划转额），账户的金库余额，双方的代币余额，新事件。
func persistAfterVaultOp(acct uuid.UUID, handles ...fhe.Handle) (err error) {
	for _, h := range handles {
		if err = persistHandle(h); err != nil {
			return err
		}
	}
	if err = persistVaultAccount(acct); err != nil {
		return err
	}
	if err = persistTokenAccount(acct); err != nil {
		return err
	}
	if err = persistTokenAccount(Vault.ID()); err != nil {
		return err
	}
	return persistEvents()
}
