// 包 db 包含共用的sql操作方法
package db

import (
	_ "github.com/mattn/go-sqlite3"
)

// --- 数据库具体操作 ---
// --- 初始化：建表 ---

// table Accounts:
// uuid TEXT PRIMARY KEY
// name TEXT
// ckksPublicKey BLOB <- rlwe.PublicKey.MarshalBinary 编码
// ecdsaPublicKey BLOB <- x509 编码
func CreateAccountTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Accounts (
			uuid TEXT PRIMARY KEY,
			name TEXT,
			ckksPublicKey BLOB,
			ecdsaPublicKey BLOB
		);
	`
}

// table VaultBalances
// 每个账户一行，两个句柄列均为十六进制文本
func CreateVaultBalanceTable() string {
	return `
		CREATE TABLE IF NOT EXISTS VaultBalances (
			account TEXT PRIMARY KEY REFERENCES Accounts(uuid),
			stakedHandle TEXT,
			borrowedHandle TEXT
		);
	`
}

// table TokenBalances
func CreateTokenBalanceTable() string {
	return `
		CREATE TABLE IF NOT EXISTS TokenBalances (
			account TEXT PRIMARY KEY REFERENCES Accounts(uuid),
			balanceHandle TEXT
		);
	`
}

// table SealedValues
// 句柄指向的值以引擎公钥下的密文落盘
func CreateSealedValueTable() string {
	return `
		CREATE TABLE IF NOT EXISTS SealedValues (
			handle TEXT PRIMARY KEY,
			kind INTEGER,
			sealed BLOB NOT NULL
		);
	`
}

// table Grants
// 句柄的授权主体，一行一条授权
func CreateGrantTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Grants (
			handle TEXT NOT NULL,
			principal TEXT NOT NULL,
			PRIMARY KEY (handle, principal)
		);
	`
}

// table Events
// 金库的事件日志，按提交序号排列
func CreateEventTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Events (
			seq INTEGER PRIMARY KEY,
			kind TEXT,
			account TEXT,
			transferredHandle TEXT,
			newTotalHandle TEXT,
			timestamp INTEGER,
			FOREIGN KEY(account) REFERENCES Accounts(uuid)
		);
	`
}

// table Operators
// 代币划转授权，until 为过期的 unix 时间戳
func CreateOperatorTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Operators (
			owner TEXT NOT NULL,
			spender TEXT NOT NULL,
			until INTEGER NOT NULL,
			PRIMARY KEY (owner, spender)
		);
	`
}

// table EngineKeys
// 引擎密钥链只有一行，重启时读回以解开旧的密封数据
func CreateEngineKeyTable() string {
	return `
		CREATE TABLE IF NOT EXISTS EngineKeys (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			identifier TEXT,
			secretKey BLOB NOT NULL,
			publicKey BLOB NOT NULL
		);
	`
}

// table Meta
// 杂项键值，存放代币累计发行量和金库的主体标识
func CreateMetaTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Meta (
			key TEXT PRIMARY KEY,
			value TEXT
		);
	`
}

// Only used in Client
func CreateECDSAPrivateKeyTable() string {
	return `
		CREATE TABLE IF NOT EXISTS ECDSAPrivateKeys (
			uuid TEXT PRIMARY KEY,
			account TEXT NOT NULL REFERENCES Accounts(uuid),
			privateKey BLOB NOT NULL
		);
	`
}

// Only used in Client
func CreateCKKSPrivateKeyTable() string {
	return `
		CREATE TABLE IF NOT EXISTS CKKSPrivateKeys (
			uuid TEXT PRIMARY KEY,
			account TEXT NOT NULL REFERENCES Accounts(uuid),
			privateKey BLOB NOT NULL
		);
	`
}
