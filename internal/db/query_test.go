package db_test

import (
	"bytes"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/MikuraDev/Mikura/internal/account"
	database "github.com/MikuraDev/Mikura/internal/db"
	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/key"
	"github.com/MikuraDev/Mikura/internal/vault"
)

var testDB *sql.DB

func initQueryTest() (err error) {
	if testDB != nil {
		return nil
	}
	testDB, err = sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	// 内存库随连接销毁，连接池收紧到单连接
	testDB.SetMaxOpenConns(1)

	for _, stmt := range []string{
		database.CreateAccountTable(),
		database.CreateVaultBalanceTable(),
		database.CreateTokenBalanceTable(),
		database.CreateSealedValueTable(),
		database.CreateGrantTable(),
		database.CreateEventTable(),
		database.CreateOperatorTable(),
		database.CreateEngineKeyTable(),
		database.CreateMetaTable(),
	} {
		if _, err = testDB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// testHandle 造一条带识别字节的句柄，只用于落盘读回
func testHandle(fill byte) (h fhe.Handle) {
	for i := 0; i < len(h)-1; i++ {
		h[i] = fill
	}
	h[len(h)-1] = fhe.KindUint64
	return h
}

func TestAccountRoundTrip(t *testing.T) {
	if err := initQueryTest(); err != nil {
		t.Fatal(err)
	}
	if err := testAccountRoundTrip(); err != nil {
		t.Error(err)
	}
}

func testAccountRoundTrip() error {
	acct := account.NewAccountWithName("Alice")
	if err := acct.GenerateKeys(); err != nil {
		return err
	}
	if err := database.PutAccountColumn(testDB, acct); err != nil {
		return err
	}

	got, err := database.GetAccount(testDB, acct.Identifier)
	if err != nil {
		return err
	}
	if got.Identifier != acct.Identifier || got.Name != acct.Name {
		return fmt.Errorf("account row does not match, got %v %v", got.Identifier, got.Name)
	}
	if !bytes.Equal(key.MarshalCKKSPayload(got.CKKSPublicKey()), key.MarshalCKKSPayload(acct.CKKSPublicKey())) {
		return fmt.Errorf("ckks public key does not survive the round trip")
	}
	if !got.ECDSAPublicKey().Equal(acct.ECDSAPublicKey()) {
		return fmt.Errorf("ecdsa public key does not survive the round trip")
	}

	// 改名后重写同一行
	acct.Name = "Alice2"
	if err = database.PutAccountColumn(testDB, acct); err != nil {
		return err
	}
	if got, err = database.GetAccount(testDB, acct.Identifier); err != nil {
		return err
	}
	if got.Name != "Alice2" {
		return fmt.Errorf("account name is not updated, got %v", got.Name)
	}

	// 查不存在的账户
	if _, err = database.GetAccount(testDB, uuid.New()); !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("expected sql.ErrNoRows, got %v", err)
	}

	accts, err := database.GetAccounts(testDB)
	if err != nil {
		return err
	}
	if len(accts) != 1 {
		return fmt.Errorf("expected 1 account, got %d", len(accts))
	}
	return nil
}

func TestBalanceRoundTrip(t *testing.T) {
	if err := initQueryTest(); err != nil {
		t.Fatal(err)
	}
	if err := testBalanceRoundTrip(); err != nil {
		t.Error(err)
	}
}

func testBalanceRoundTrip() error {
	acct := uuid.New()
	staked := testHandle(0x11)
	borrowed := testHandle(0x22)

	if err := database.PutVaultBalanceColumn(testDB, acct, staked, borrowed); err != nil {
		return err
	}
	gotStaked, gotBorrowed, err := database.GetVaultBalance(testDB, acct)
	if err != nil {
		return err
	}
	if gotStaked != staked || gotBorrowed != borrowed {
		return fmt.Errorf("vault balance handles do not survive the round trip")
	}

	// 覆盖写
	if err = database.PutVaultBalanceColumn(testDB, acct, borrowed, staked); err != nil {
		return err
	}
	if gotStaked, gotBorrowed, err = database.GetVaultBalance(testDB, acct); err != nil {
		return err
	}
	if gotStaked != borrowed || gotBorrowed != staked {
		return fmt.Errorf("vault balance handles are not updated")
	}

	// 没有记录的账户解析为零句柄，不报错
	if gotStaked, gotBorrowed, err = database.GetVaultBalance(testDB, uuid.New()); err != nil {
		return err
	}
	if !gotStaked.IsZero() || !gotBorrowed.IsZero() {
		return fmt.Errorf("missing vault balance should resolve to zero handles")
	}

	balance := testHandle(0x33)
	if err = database.PutTokenBalanceColumn(testDB, acct, balance); err != nil {
		return err
	}
	gotBalance, err := database.GetTokenBalance(testDB, acct)
	if err != nil {
		return err
	}
	if gotBalance != balance {
		return fmt.Errorf("token balance handle does not survive the round trip")
	}
	if gotBalance, err = database.GetTokenBalance(testDB, uuid.New()); err != nil {
		return err
	}
	if !gotBalance.IsZero() {
		return fmt.Errorf("missing token balance should resolve to the zero handle")
	}
	return nil
}

func TestSealedValuesAndGrants(t *testing.T) {
	if err := initQueryTest(); err != nil {
		t.Fatal(err)
	}
	if err := testSealedValuesAndGrants(); err != nil {
		t.Error(err)
	}
}

func testSealedValuesAndGrants() error {
	h := testHandle(0x44)
	if err := database.PutSealedValueColumn(testDB, h, fhe.KindUint64, []byte("sealed-bytes")); err != nil {
		return err
	}
	// 同一句柄重写，密封内容以最后一次为准
	if err := database.PutSealedValueColumn(testDB, h, fhe.KindBool, []byte("sealed-bytes-2")); err != nil {
		return err
	}

	values, err := database.GetSealedValues(testDB)
	if err != nil {
		return err
	}
	if len(values) != 1 {
		return fmt.Errorf("expected 1 sealed value, got %d", len(values))
	}
	if values[0].Handle != h || values[0].Kind != fhe.KindBool || !bytes.Equal(values[0].Sealed, []byte("sealed-bytes-2")) {
		return fmt.Errorf("sealed value does not survive the round trip: %+v", values[0])
	}

	// 重复授权直接忽略
	alice := uuid.New()
	bob := uuid.New()
	for _, principal := range []uuid.UUID{alice, alice, bob} {
		if err = database.PutGrantColumn(testDB, h, principal); err != nil {
			return err
		}
	}
	grants, err := database.GetGrants(testDB)
	if err != nil {
		return err
	}
	if len(grants) != 2 {
		return fmt.Errorf("expected 2 grants, got %d", len(grants))
	}
	return nil
}

func TestEventRoundTrip(t *testing.T) {
	if err := initQueryTest(); err != nil {
		t.Fatal(err)
	}
	if err := testEventRoundTrip(); err != nil {
		t.Error(err)
	}
}

func testEventRoundTrip() error {
	acct := uuid.New()
	first := vault.Event{
		Seq:         1,
		Kind:        vault.EventStaked,
		Account:     acct,
		Transferred: testHandle(0x55),
		NewTotal:    testHandle(0x66),
		TimeStamp:   time.Now().Unix(),
	}
	second := vault.Event{
		Seq:         2,
		Kind:        vault.EventBorrowed,
		Account:     acct,
		Transferred: testHandle(0x77),
		NewTotal:    testHandle(0x88),
		TimeStamp:   time.Now().Unix(),
	}

	// 乱序写入，读回必须按序号升序
	if err := database.PutEventColumn(testDB, second); err != nil {
		return err
	}
	if err := database.PutEventColumn(testDB, first); err != nil {
		return err
	}
	// 事件只增不改，同序号的重放被忽略
	replay := first
	replay.Kind = vault.EventWithdrawn
	if err := database.PutEventColumn(testDB, replay); err != nil {
		return err
	}

	events, err := database.GetEvents(testDB)
	if err != nil {
		return err
	}
	if len(events) != 2 {
		return fmt.Errorf("expected 2 events, got %d", len(events))
	}
	if events[0] != first || events[1] != second {
		return fmt.Errorf("events do not survive the round trip: %+v", events)
	}
	return nil
}

func TestOperatorRoundTrip(t *testing.T) {
	if err := initQueryTest(); err != nil {
		t.Fatal(err)
	}
	if err := testOperatorRoundTrip(); err != nil {
		t.Error(err)
	}
}

func testOperatorRoundTrip() error {
	owner := uuid.New()
	spender := uuid.New()

	if err := database.PutOperatorColumn(testDB, owner, spender, 1000); err != nil {
		return err
	}
	// 续期走覆盖写
	if err := database.PutOperatorColumn(testDB, owner, spender, 2000); err != nil {
		return err
	}

	ops, err := database.GetOperators(testDB)
	if err != nil {
		return err
	}
	if len(ops) != 1 {
		return fmt.Errorf("expected 1 operator, got %d", len(ops))
	}
	if ops[0].Owner != owner || ops[0].Spender != spender || ops[0].Until != 2000 {
		return fmt.Errorf("operator row does not survive the round trip: %+v", ops[0])
	}
	return nil
}

func TestEngineKeyRoundTrip(t *testing.T) {
	if err := initQueryTest(); err != nil {
		t.Fatal(err)
	}
	if err := testEngineKeyRoundTrip(); err != nil {
		t.Error(err)
	}
}

func testEngineKeyRoundTrip() error {
	chain := key.GenerateCKKSKeyChain(uuid.New())
	if err := database.PutEngineKeysColumn(testDB, chain); err != nil {
		return err
	}

	got, err := database.GetEngineKeys(testDB)
	if err != nil {
		return err
	}
	if got.Identifier != chain.Identifier {
		return fmt.Errorf("engine identifier does not match, got %v, expected %v", got.Identifier, chain.Identifier)
	}
	if !bytes.Equal(key.MarshalCKKSPayload(got.CKKSPrivateKey), key.MarshalCKKSPayload(chain.CKKSPrivateKey)) {
		return fmt.Errorf("engine secret key does not survive the round trip")
	}
	if !bytes.Equal(key.MarshalCKKSPayload(got.CKKSPublicKey), key.MarshalCKKSPayload(chain.CKKSPublicKey)) {
		return fmt.Errorf("engine public key does not survive the round trip")
	}
	return nil
}

func TestMetaRoundTrip(t *testing.T) {
	if err := initQueryTest(); err != nil {
		t.Fatal(err)
	}
	if err := testMetaRoundTrip(); err != nil {
		t.Error(err)
	}
}

func testMetaRoundTrip() error {
	// 没有记录的键解析为空串
	value, err := database.GetMeta(testDB, "missing")
	if err != nil {
		return err
	}
	if value != "" {
		return fmt.Errorf("missing meta key should resolve to an empty string, got %v", value)
	}

	if err = database.PutMetaColumn(testDB, "minted", "1000"); err != nil {
		return err
	}
	if err = database.PutMetaColumn(testDB, "minted", "2500"); err != nil {
		return err
	}
	if value, err = database.GetMeta(testDB, "minted"); err != nil {
		return err
	}
	if value != "2500" {
		return fmt.Errorf("meta value is not updated, got %v, expected %v", value, "2500")
	}
	return nil
}
