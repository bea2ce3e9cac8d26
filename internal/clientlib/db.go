package clientlib

import (
	"database/sql"
	"os"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/MikuraDev/Mikura/internal/account"
	database "github.com/MikuraDev/Mikura/internal/db"
	"github.com/MikuraDev/Mikura/internal/key"
)

const (
	DefaultDatabaseDirPath  string = "/.config/Mikura/"
	DefaultDatabaseFileName string = "client.db"
)

var (
	homedir, _                = os.UserHomeDir()
	ConfigDatabasePath string = homedir + DefaultDatabaseDirPath + DefaultDatabaseFileName
)

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
	// 初始化数据库对象
	db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.Exec("PRAGMA foreign_keys = ON;")

	// 建立账户表
	_, err = db.Exec(database.CreateAccountTable())
	if err != nil {
		return nil, err
	}

	// 建立私钥表
	_, err = db.Exec(database.CreateCKKSPrivateKeyTable())
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(database.CreateECDSAPrivateKeyTable())
	if err != nil {
		return nil, err
	}

	return
}

// --- 账户存取部分 ---

// StoreAccount 把账户连同两条私钥写入客户端数据库。
func StoreAccount(db *sql.DB, acct *Account) error {
	if err := database.PutAccountColumn(db, &acct.Account); err != nil {
		return err
	}

	if sk := acct.CKKSSecretKey(); sk != nil {
		stmt, err := db.Prepare(`
			INSERT INTO CKKSPrivateKeys (uuid, account, privateKey)
			VALUES (?, ?, ?)
			ON CONFLICT (uuid) DO UPDATE SET
				privateKey = excluded.privateKey
		`)
		if err != nil {
			return errors.Wrap(err, "prepare statement")
		}
		defer stmt.Close()
		if _, err = stmt.Exec(acct.Identifier.String(), acct.Identifier.String(), key.MarshalCKKSPayload(sk)); err != nil {
			return errors.Wrap(err, "store ckks private key")
		}
	}

	if sk := acct.ECDSAPrivateKey(); sk != nil {
		stmt, err := db.Prepare(`
			INSERT INTO ECDSAPrivateKeys (uuid, account, privateKey)
			VALUES (?, ?, ?)
			ON CONFLICT (uuid) DO UPDATE SET
				privateKey = excluded.privateKey
		`)
		if err != nil {
			return errors.Wrap(err, "prepare statement")
		}
		defer stmt.Close()
		if _, err = stmt.Exec(acct.Identifier.String(), acct.Identifier.String(), key.MarshalECDSAPrivateKey(sk)); err != nil {
			return errors.Wrap(err, "store ecdsa private key")
		}
	}

	return nil
}

// LoadAccount 按标识符从客户端数据库读回账户和私钥。
func LoadAccount(db *sql.DB, id uuid.UUID) (*Account, error) {
	base, err := database.GetAccount(db, id)
	if err != nil {
		return nil, err
	}
	acct := &Account{Account: account.Account{
		Identifier: base.Identifier,
		Name:       base.Name,
	}}

	var skBytes []byte
	err = db.QueryRow(`SELECT privateKey FROM CKKSPrivateKeys WHERE account = ?;`, id.String()).Scan(&skBytes)
	if err != nil {
		return nil, errors.Wrap(err, "load ckks private key")
	}
	ckksSk, err := key.UnmarshalCKKSSecretKey(skBytes)
	if err != nil {
		return nil, err
	}
	if err = acct.ImportCKKSSecretKey(ckksSk); err != nil {
		return nil, err
	}

	err = db.QueryRow(`SELECT privateKey FROM ECDSAPrivateKeys WHERE account = ?;`, id.String()).Scan(&skBytes)
	if err != nil {
		return nil, errors.Wrap(err, "load ecdsa private key")
	}
	ecdsaSk, err := key.UnmarshalECDSAPrivateKey(skBytes)
	if err != nil {
		return nil, err
	}
	if err = acct.ImportECDSAPrivateKey(ecdsaSk); err != nil {
		return nil, err
	}

	return acct, nil
}

// LoadAccountByName 按名字读回账户。同名时取最先写入的一个。
func LoadAccountByName(db *sql.DB, name string) (*Account, error) {
	var idStr string
	err := db.QueryRow(`SELECT uuid FROM Accounts WHERE name = ? LIMIT 1;`, name).Scan(&idStr)
	if err != nil {
		return nil, errors.Wrap(err, "look up account by name")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return LoadAccount(db, id)
}

// ListAccounts 返回客户端数据库中的全部账户（不含私钥）。
func ListAccounts(db *sql.DB) ([]*account.Account, error) {
	return database.GetAccounts(db)
}
