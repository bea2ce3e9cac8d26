package token_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikuraDev/Mikura/internal/clientlib"
	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/token"
)

// 测试共用的引擎和账户
var (
	tokenEngine *fhe.Engine
	tokenAlice  *clientlib.Account
	tokenBob    *clientlib.Account
)

func initTokenTest() (err error) {
	if tokenEngine != nil {
		return nil
	}
	tokenEngine = fhe.NewEngine()
	if tokenAlice, err = clientlib.NewAccount("Alice"); err != nil {
		return err
	}
	if tokenBob, err = clientlib.NewAccount("Bob"); err != nil {
		return err
	}
	tokenEngine.RegisterPrincipal(tokenAlice.Identifier,
		tokenAlice.CKKSPublicKey(), tokenAlice.ECDSAPublicKey())
	tokenEngine.RegisterPrincipal(tokenBob.Identifier,
		tokenBob.CKKSPublicKey(), tokenBob.ECDSAPublicKey())
	return nil
}

// revealAmount 以账户身份解密一个已授权的句柄
func revealAmount(h fhe.Handle, acct *clientlib.Account) (uint64, error) {
	ct, err := tokenEngine.Reveal(h, acct.Identifier)
	if err != nil {
		return 0, err
	}
	return acct.DecryptAmountFromCT(ct)
}

func checkBalance(h fhe.Handle, acct *clientlib.Account, expected uint64) error {
	got, err := revealAmount(h, acct)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("balance is not equal to the expected amount, got %d, expected %d", got, expected)
	}
	return nil
}

func TestMint(t *testing.T) {
	if err := initTokenTest(); err != nil {
		t.Fatal(err)
	}
	if err := testMint(); err != nil {
		t.Error(err)
	}
}

func BenchmarkMint(b *testing.B) {
	if err := initTokenTest(); err != nil {
		b.Fatal(err)
	}
	tok, err := token.New(tokenEngine)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tok.Mint(tokenAlice.Identifier, 1); err != nil {
			b.Error(err)
		}
	}
}

func testMint() error {
	tok, err := token.New(tokenEngine)
	if err != nil {
		return err
	}

	newBalance, err := tok.Mint(tokenAlice.Identifier, 5000)
	if err != nil {
		return err
	}
	if err = checkBalance(newBalance, tokenAlice, 5000); err != nil {
		return err
	}

	// 增发是累加的
	newBalance, err = tok.Mint(tokenAlice.Identifier, 2500)
	if err != nil {
		return err
	}
	if err = checkBalance(newBalance, tokenAlice, 7500); err != nil {
		return err
	}
	if tok.Minted() != 7500 {
		return fmt.Errorf("minted total is not equal to the expected amount, got %d, expected %d", tok.Minted(), 7500)
	}

	// 没登记的账户不能接收增发
	if _, err = tok.Mint(uuid.New(), 1); !errors.Is(err, token.ErrUnknownAccount) {
		return fmt.Errorf("expected ErrUnknownAccount, got %v", err)
	}
	return nil
}

func TestMintSupplyCap(t *testing.T) {
	if err := initTokenTest(); err != nil {
		t.Fatal(err)
	}
	if err := testMintSupplyCap(); err != nil {
		t.Error(err)
	}
}

func testMintSupplyCap() error {
	tok, err := token.New(tokenEngine)
	if err != nil {
		return err
	}

	// 发行量允许打满上界
	if _, err = tok.Mint(tokenAlice.Identifier, fhe.MaxAmount); err != nil {
		return err
	}

	// 越过上界的增发必须被拒绝，发行量保持不变
	if _, err = tok.Mint(tokenAlice.Identifier, 1); !errors.Is(err, token.ErrSupplyCap) {
		return fmt.Errorf("expected ErrSupplyCap, got %v", err)
	}
	if tok.Minted() != fhe.MaxAmount {
		return fmt.Errorf("minted total changed after a rejected mint, got %d, expected %d", tok.Minted(), fhe.MaxAmount)
	}
	return nil
}

func TestConfidentialTransfer(t *testing.T) {
	if err := initTokenTest(); err != nil {
		t.Fatal(err)
	}
	if err := testConfidentialTransfer(); err != nil {
		t.Error(err)
	}
}

func BenchmarkConfidentialTransfer(b *testing.B) {
	if err := initTokenTest(); err != nil {
		b.Fatal(err)
	}
	tok, err := token.New(tokenEngine)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := tok.Mint(tokenAlice.Identifier, fhe.MaxAmount); err != nil {
		b.Fatal(err)
	}
	amount := tokenEngine.AsConstant(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tok.ConfidentialTransfer(tokenAlice.Identifier, tokenBob.Identifier, amount); err != nil {
			b.Error(err)
		}
	}
}

func testConfidentialTransfer() error {
	tok, err := token.New(tokenEngine)
	if err != nil {
		return err
	}
	if _, err = tok.Mint(tokenAlice.Identifier, 1000); err != nil {
		return err
	}

	actual, err := tok.ConfidentialTransfer(tokenAlice.Identifier, tokenBob.Identifier,
		tokenEngine.AsConstant(400))
	if err != nil {
		return err
	}
	if err = checkBalance(actual, tokenAlice, 400); err != nil {
		return err
	}
	if err = checkBalance(tok.BalanceHandle(tokenAlice.Identifier), tokenAlice, 600); err != nil {
		return err
	}
	if err = checkBalance(tok.BalanceHandle(tokenBob.Identifier), tokenBob, 400); err != nil {
		return err
	}

	// 请求超出余额时实际划转收敛到余额，转账本身不报错
	actual, err = tok.ConfidentialTransfer(tokenAlice.Identifier, tokenBob.Identifier,
		tokenEngine.AsConstant(10000))
	if err != nil {
		return err
	}
	if err = checkBalance(actual, tokenBob, 600); err != nil {
		return err
	}
	if err = checkBalance(tok.BalanceHandle(tokenAlice.Identifier), tokenAlice, 0); err != nil {
		return err
	}
	if err = checkBalance(tok.BalanceHandle(tokenBob.Identifier), tokenBob, 1000); err != nil {
		return err
	}

	// 没有余额记录的账户转出，实际划转为零
	actual, err = tok.ConfidentialTransfer(tokenAlice.Identifier, tokenBob.Identifier,
		tokenEngine.AsConstant(100))
	if err != nil {
		return err
	}
	return checkBalance(actual, tokenAlice, 0)
}

func TestOperatorApproval(t *testing.T) {
	if err := initTokenTest(); err != nil {
		t.Fatal(err)
	}
	if err := testOperatorApproval(); err != nil {
		t.Error(err)
	}
}

func testOperatorApproval() error {
	tok, err := token.New(tokenEngine)
	if err != nil {
		return err
	}
	if _, err = tok.Mint(tokenAlice.Identifier, 1000); err != nil {
		return err
	}
	spender := uuid.New()
	tokenEngine.RegisterComputeParty(spender)

	// 没有授权的代扣必须被拒绝
	_, err = tok.ConfidentialTransferFrom(spender, tokenAlice.Identifier, tokenBob.Identifier,
		tokenEngine.AsConstant(100))
	if !errors.Is(err, token.ErrNotOperator) {
		return fmt.Errorf("expected ErrNotOperator before approval, got %v", err)
	}

	tok.SetOperator(tokenAlice.Identifier, spender, time.Now().Unix()+3600)
	if !tok.IsOperator(tokenAlice.Identifier, spender) {
		return fmt.Errorf("approval should be effective before expiry")
	}
	actual, err := tok.ConfidentialTransferFrom(spender, tokenAlice.Identifier, tokenBob.Identifier,
		tokenEngine.AsConstant(100))
	if err != nil {
		return err
	}
	if err = checkBalance(actual, tokenAlice, 100); err != nil {
		return err
	}

	// 过期的授权不再生效
	tok.SetOperator(tokenAlice.Identifier, spender, time.Now().Unix()-1)
	_, err = tok.ConfidentialTransferFrom(spender, tokenAlice.Identifier, tokenBob.Identifier,
		tokenEngine.AsConstant(100))
	if !errors.Is(err, token.ErrNotOperator) {
		return fmt.Errorf("expected ErrNotOperator after expiry, got %v", err)
	}

	// 所有者转出自己的余额不需要授权
	if _, err = tok.ConfidentialTransferFrom(tokenAlice.Identifier, tokenAlice.Identifier,
		tokenBob.Identifier, tokenEngine.AsConstant(50)); err != nil {
		return err
	}
	return nil
}
