package db

import (
	"database/sql"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/MikuraDev/Mikura/internal/account"
	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/vault"
)

// SealedValue 是 SealedValues 表的一行。
type SealedValue struct {
	Handle fhe.Handle
	Kind   byte
	Sealed []byte
}

// Grant 是 Grants 表的一行。
type Grant struct {
	Handle    fhe.Handle
	Principal uuid.UUID
}

// Operator 是 Operators 表的一行。
type Operator struct {
	Owner   uuid.UUID
	Spender uuid.UUID
	Until   int64
}

// --- 查询部分 ---

// GetAccount 按标识符查询账户及其登记的公钥。
func GetAccount(db *sql.DB, acctUUID uuid.UUID) (acct *account.Account, err error) {
	stmt, err := db.Prepare(`
		SELECT uuid, name, ckksPublicKey, ecdsaPublicKey
		FROM Accounts
		WHERE uuid = ?
	`)
	if err != nil {
		return nil, errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	var (
		idStr      string
		name       string
		ckksBytes  []byte
		ecdsaBytes []byte
	)
	err = stmt.QueryRow(acctUUID.String()).Scan(&idStr, &name, &ckksBytes, &ecdsaBytes)
	if err != nil {
		return nil, errors.Wrap(err, "scan row")
	}

	return accountFromRow(idStr, name, ckksBytes, ecdsaBytes)
}

// GetAccounts 返回所有已登记的账户，服务端重启时重放用。
func GetAccounts(db *sql.DB) (accts []*account.Account, err error) {
	rows, err := db.Query(`
		SELECT uuid, name, ckksPublicKey, ecdsaPublicKey
		FROM Accounts;
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query accounts")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idStr      string
			name       string
			ckksBytes  []byte
			ecdsaBytes []byte
		)
		if err = rows.Scan(&idStr, &name, &ckksBytes, &ecdsaBytes); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		acct, err := accountFromRow(idStr, name, ckksBytes, ecdsaBytes)
		if err != nil {
			return nil, err
		}
		accts = append(accts, acct)
	}
	return accts, rows.Err()
}

func accountFromRow(idStr, name string, ckksBytes, ecdsaBytes []byte) (*account.Account, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, errors.Wrap(err, "parse account uuid")
	}
	acct := &account.Account{Identifier: id, Name: name}

	if len(ckksBytes) > 0 {
		pk, err := key.UnmarshalCKKSPublicKey(ckksBytes)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal ckks public key")
		}
		if err := acct.ImportCKKSPublicKey(pk); err != nil {
			return nil, err
		}
	}
	if len(ecdsaBytes) > 0 {
		pk, err := key.UnmarshalECDSAPublicKey(ecdsaBytes)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshal ecdsa public key")
		}
		if err := acct.ImportECDSAPublicKey(pk); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

// GetVaultBalance 查询账户的质押和借款句柄。
// 没有记录的账户返回两个零句柄。
func GetVaultBalance(db *sql.DB, acctUUID uuid.UUID) (staked, borrowed fhe.Handle, err error) {
	row := db.QueryRow(`
		SELECT stakedHandle, borrowedHandle
		FROM VaultBalances
		WHERE account = ?;
	`, acctUUID.String())

	var stakedStr, borrowedStr string
	err = row.Scan(&stakedStr, &borrowedStr)
	if err == sql.ErrNoRows {
		return fhe.Handle{}, fhe.Handle{}, nil
	}
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, errors.Wrap(err, "scan vault balance")
	}

	staked, err = fhe.ParseHandle(stakedStr)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, errors.Wrap(err, "parse staked handle")
	}
	borrowed, err = fhe.ParseHandle(borrowedStr)
	if err != nil {
		return fhe.Handle{}, fhe.Handle{}, errors.Wrap(err, "parse borrowed handle")
	}
	return staked, borrowed, nil
}

// GetTokenBalance 查询账户的代币余额句柄。没有记录时返回零句柄。
func GetTokenBalance(db *sql.DB, acctUUID uuid.UUID) (h fhe.Handle, err error) {
	row := db.QueryRow(`
		SELECT balanceHandle
		FROM TokenBalances
		WHERE account = ?;
	`, acctUUID.String())

	var handleStr string
	err = row.Scan(&handleStr)
	if err == sql.ErrNoRows {
		return fhe.Handle{}, nil
	}
	if err != nil {
		return fhe.Handle{}, errors.Wrap(err, "scan token balance")
	}
	return fhe.ParseHandle(handleStr)
}

// GetSealedValues 返回全部密封值，服务端重启时重放用。
func GetSealedValues(db *sql.DB) (values []SealedValue, err error) {
	rows, err := db.Query(`SELECT handle, kind, sealed FROM SealedValues;`)
	if err != nil {
		return nil, errors.Wrap(err, "query sealed values")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			handleStr string
			kind      int
			sealed    []byte
		)
		if err = rows.Scan(&handleStr, &kind, &sealed); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		h, err := fhe.ParseHandle(handleStr)
		if err != nil {
			return nil, errors.Wrap(err, "parse handle")
		}
		values = append(values, SealedValue{Handle: h, Kind: byte(kind), Sealed: sealed})
	}
	return values, rows.Err()
}

// GetGrants 返回全部授权记录。
func GetGrants(db *sql.DB) (grants []Grant, err error) {
	rows, err := db.Query(`SELECT handle, principal FROM Grants;`)
	if err != nil {
		return nil, errors.Wrap(err, "query grants")
	}
	defer rows.Close()

	for rows.Next() {
		var handleStr, principalStr string
		if err = rows.Scan(&handleStr, &principalStr); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		h, err := fhe.ParseHandle(handleStr)
		if err != nil {
			return nil, errors.Wrap(err, "parse handle")
		}
		principal, err := uuid.Parse(principalStr)
		if err != nil {
			return nil, errors.Wrap(err, "parse principal uuid")
		}
		grants = append(grants, Grant{Handle: h, Principal: principal})
	}
	return grants, rows.Err()
}

// GetEvents 返回全部事件，按序号升序。
func GetEvents(db *sql.DB) (events []vault.Event, err error) {
	rows, err := db.Query(`
		SELECT seq, kind, account, transferredHandle, newTotalHandle, timestamp
		FROM Events
		ORDER BY seq ASC;
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ev             vault.Event
			acctStr        string
			transferredStr string
			newTotalStr    string
		)
		if err = rows.Scan(&ev.Seq, &ev.Kind, &acctStr, &transferredStr, &newTotalStr, &ev.TimeStamp); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		if ev.Account, err = uuid.Parse(acctStr); err != nil {
			return nil, errors.Wrap(err, "parse account uuid")
		}
		if ev.Transferred, err = fhe.ParseHandle(transferredStr); err != nil {
			return nil, errors.Wrap(err, "parse transferred handle")
		}
		if ev.NewTotal, err = fhe.ParseHandle(newTotalStr); err != nil {
			return nil, errors.Wrap(err, "parse newTotal handle")
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetOperators 返回全部代币授权记录。
func GetOperators(db *sql.DB) (ops []Operator, err error) {
	rows, err := db.Query(`SELECT owner, spender, until FROM Operators;`)
	if err != nil {
		return nil, errors.Wrap(err, "query operators")
	}
	defer rows.Close()

	for rows.Next() {
		var op Operator
		var ownerStr, spenderStr string
		if err = rows.Scan(&ownerStr, &spenderStr, &op.Until); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		if op.Owner, err = uuid.Parse(ownerStr); err != nil {
			return nil, errors.Wrap(err, "parse owner uuid")
		}
		if op.Spender, err = uuid.Parse(spenderStr); err != nil {
			return nil, errors.Wrap(err, "parse spender uuid")
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetEngineKeys 读回引擎密钥链。没有记录时返回 sql.ErrNoRows。
func GetEngineKeys(db *sql.DB) (chain key.CKKSKeyChain, err error) {
	row := db.QueryRow(`SELECT identifier, secretKey, publicKey FROM EngineKeys WHERE id = 1;`)

	var (
		idStr   string
		skBytes []byte
		pkBytes []byte
	)
	if err = row.Scan(&idStr, &skBytes, &pkBytes); err != nil {
		return chain, err
	}

	if chain.Identifier, err = uuid.Parse(idStr); err != nil {
		return chain, errors.Wrap(err, "parse engine uuid")
	}
	if chain.CKKSPrivateKey, err = key.UnmarshalCKKSSecretKey(skBytes); err != nil {
		return chain, errors.Wrap(err, "unmarshal engine secret key")
	}
	if chain.CKKSPublicKey, err = key.UnmarshalCKKSPublicKey(pkBytes); err != nil {
		return chain, errors.Wrap(err, "unmarshal engine public key")
	}
	return chain, nil
}

// GetMeta 查询杂项键值。没有记录时返回空串。
func GetMeta(db *sql.DB, metaKey string) (value string, err error) {
	row := db.QueryRow(`SELECT value FROM Meta WHERE key = ?;`, metaKey)
	err = row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// --- 写入部分 ---

// PutAccountColumn 添加或更新账户行。
func PutAccountColumn(db *sql.DB, acct *account.Account) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO Accounts
		(uuid, name, ckksPublicKey, ecdsaPublicKey)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET
			name = excluded.name,
			ckksPublicKey = excluded.ckksPublicKey,
			ecdsaPublicKey = excluded.ecdsaPublicKey
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	var ckksBytes, ecdsaBytes []byte
	if pk := acct.CKKSPublicKey(); pk != nil {
		ckksBytes = key.MarshalCKKSPayload(pk)
	}
	if pk := acct.ECDSAPublicKey(); pk != nil {
		ecdsaBytes = key.MarshalECDSAPublicKey(pk)
	}

	_, err = stmt.Exec(acct.Identifier.String(), acct.Name, ckksBytes, ecdsaBytes)
	return
}

// PutVaultBalanceColumn 写入账户的质押和借款句柄。
func PutVaultBalanceColumn(db *sql.DB, acctUUID uuid.UUID, staked, borrowed fhe.Handle) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO VaultBalances
		(account, stakedHandle, borrowedHandle)
		VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET
			stakedHandle = excluded.stakedHandle,
			borrowedHandle = excluded.borrowedHandle
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(acctUUID.String(), staked.String(), borrowed.String())
	return
}

// PutTokenBalanceColumn 写入账户的代币余额句柄。
func PutTokenBalanceColumn(db *sql.DB, acctUUID uuid.UUID, h fhe.Handle) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO TokenBalances
		(account, balanceHandle)
		VALUES (?, ?)
		ON CONFLICT (account) DO UPDATE SET
			balanceHandle = excluded.balanceHandle
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(acctUUID.String(), h.String())
	return
}

// PutSealedValueColumn 写入一条密封值。
func PutSealedValueColumn(db *sql.DB, h fhe.Handle, kind byte, sealed []byte) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO SealedValues
		(handle, kind, sealed)
		VALUES (?, ?, ?)
		ON CONFLICT (handle) DO UPDATE SET
			kind = excluded.kind,
			sealed = excluded.sealed
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(h.String(), int(kind), sealed)
	return
}

// PutGrantColumn 写入一条授权。重复授权直接忽略。
func PutGrantColumn(db *sql.DB, h fhe.Handle, principal uuid.UUID) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO Grants (handle, principal)
		VALUES (?, ?)
		ON CONFLICT (handle, principal) DO NOTHING
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(h.String(), principal.String())
	return
}

// PutEventColumn 写入一条事件。事件只增不改。
func PutEventColumn(db *sql.DB, ev vault.Event) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO Events
		(seq, kind, account, transferredHandle, newTotalHandle, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (seq) DO NOTHING
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		ev.Seq, ev.Kind, ev.Account.String(),
		ev.Transferred.String(), ev.NewTotal.String(), ev.TimeStamp,
	)
	return
}

// PutOperatorColumn 写入一条代币授权。
func PutOperatorColumn(db *sql.DB, owner, spender uuid.UUID, until int64) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO Operators (owner, spender, until)
		VALUES (?, ?, ?)
		ON CONFLICT (owner, spender) DO UPDATE SET
			until = excluded.until
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(owner.String(), spender.String(), until)
	return
}

// PutEngineKeysColumn 写入引擎密钥链。
func PutEngineKeysColumn(db *sql.DB, chain key.CKKSKeyChain) (err error) {
	skBytes := key.MarshalCKKSPayload(chain.CKKSPrivateKey)
	pkBytes := key.MarshalCKKSPayload(chain.CKKSPublicKey)

	stmt, err := db.Prepare(`
		INSERT INTO EngineKeys (id, identifier, secretKey, publicKey)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			identifier = excluded.identifier,
			secretKey = excluded.secretKey,
			publicKey = excluded.publicKey
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(chain.Identifier.String(), skBytes, pkBytes)
	return
}

// PutMetaColumn 写入杂项键值。
func PutMetaColumn(db *sql.DB, metaKey, value string) (err error) {
	stmt, err := db.Prepare(`
		INSERT INTO Meta (key, value)
		VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value
	`)
	if err != nil {
		return errors.Wrap(err, "prepare statement")
	}
	defer stmt.Close()

	_, err = stmt.Exec(metaKey, value)
	return
}
