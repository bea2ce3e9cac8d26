package fhe_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/MikuraDev/Mikura/internal/clientlib"
	"github.com/MikuraDev/Mikura/internal/fhe"
)

// 测试共用的引擎和账户
var (
	testEngine  *fhe.Engine
	testAccount *clientlib.Account
)

func initEngineTest() (err error) {
	if testEngine != nil {
		return nil
	}
	testEngine = fhe.NewEngine()
	testAccount, err = clientlib.NewAccount("Alice")
	if err != nil {
		return err
	}
	testEngine.RegisterPrincipal(testAccount.Identifier,
		testAccount.CKKSPublicKey(), testAccount.ECDSAPublicKey())
	return nil
}

// makeHandle 把金额包成外部输入并送进引擎
func makeHandle(v uint64) (fhe.Handle, error) {
	ext, err := testAccount.MakeExternalInput(v, testEngine.PublicKey())
	if err != nil {
		return fhe.Handle{}, err
	}
	return testEngine.FromExternal(ext)
}

// readHandle 以账户身份披露并解密句柄
func readHandle(h fhe.Handle) (uint64, error) {
	if err := testEngine.Allow(h, testAccount.Identifier); err != nil {
		return 0, err
	}
	ct, err := testEngine.Reveal(h, testAccount.Identifier)
	if err != nil {
		return 0, err
	}
	return testAccount.DecryptAmountFromCT(ct)
}

func checkHandleValue(h fhe.Handle, expected uint64) error {
	got, err := readHandle(h)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("decrypted amount is not equal to the expected amount, got %d, expected %d", got, expected)
	}
	return nil
}

// --- 运算部分 ---

func TestEngineArithmetic(t *testing.T) {
	if err := initEngineTest(); err != nil {
		t.Fatal(err)
	}
	if err := testEngineArithmetic(); err != nil {
		t.Error(err)
	}
}

func BenchmarkEngineArithmetic(b *testing.B) {
	if err := initEngineTest(); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := testEngineArithmetic(); err != nil {
			b.Error(err)
		}
	}
}

func testEngineArithmetic() error {
	a, err := makeHandle(700)
	if err != nil {
		return err
	}
	b, err := makeHandle(300)
	if err != nil {
		return err
	}

	sum, err := testEngine.Add(a, b)
	if err != nil {
		return err
	}
	if err = checkHandleValue(sum, 1000); err != nil {
		return err
	}

	diff, err := testEngine.Sub(a, b)
	if err != nil {
		return err
	}
	if err = checkHandleValue(diff, 400); err != nil {
		return err
	}

	// 收敛减法：差为负时收敛到零
	clamped, err := testEngine.TrySub(b, a)
	if err != nil {
		return err
	}
	if err = checkHandleValue(clamped, 0); err != nil {
		return err
	}

	smaller, err := testEngine.Min(a, b)
	if err != nil {
		return err
	}
	return checkHandleValue(smaller, 300)
}

func TestEngineCompareAndSelect(t *testing.T) {
	if err := initEngineTest(); err != nil {
		t.Fatal(err)
	}
	if err := testEngineCompareAndSelect(); err != nil {
		t.Error(err)
	}
}

func testEngineCompareAndSelect() error {
	small, err := makeHandle(300)
	if err != nil {
		return err
	}
	big, err := makeHandle(700)
	if err != nil {
		return err
	}

	// a <= b 为真时取第一个分支
	cond, err := testEngine.Le(small, big)
	if err != nil {
		return err
	}
	if cond.Kind() != fhe.KindBool {
		return fmt.Errorf("expected a bool handle, got kind %d", cond.Kind())
	}
	picked, err := testEngine.Select(cond, small, big)
	if err != nil {
		return err
	}
	if err = checkHandleValue(picked, 300); err != nil {
		return err
	}

	// a <= b 为假时取第二个分支
	cond, err = testEngine.Le(big, small)
	if err != nil {
		return err
	}
	picked, err = testEngine.Select(cond, small, big)
	if err != nil {
		return err
	}
	if err = checkHandleValue(picked, 700); err != nil {
		return err
	}

	// 相等是边界情况，比较必须放行
	cond, err = testEngine.Le(small, small)
	if err != nil {
		return err
	}
	picked, err = testEngine.Select(cond, big, small)
	if err != nil {
		return err
	}
	if err = checkHandleValue(picked, 700); err != nil {
		return err
	}

	// 种类检查：金额句柄不能当条件，布尔句柄不能做算术
	if _, err = testEngine.Select(small, big, small); !errors.Is(err, fhe.ErrKindMismatch) {
		return fmt.Errorf("expected ErrKindMismatch for amount condition, got %v", err)
	}
	if _, err = testEngine.Add(cond, small); !errors.Is(err, fhe.ErrKindMismatch) {
		return fmt.Errorf("expected ErrKindMismatch for bool operand, got %v", err)
	}
	return nil
}

func TestEngineZeroHandle(t *testing.T) {
	if err := initEngineTest(); err != nil {
		t.Fatal(err)
	}
	if err := testEngineZeroHandle(); err != nil {
		t.Error(err)
	}
}

func testEngineZeroHandle() error {
	h, err := makeHandle(42)
	if err != nil {
		return err
	}

	// 全零句柄固定解出金额零，任何主体都可用
	sum, err := testEngine.Add(h, fhe.Zero())
	if err != nil {
		return err
	}
	if err = checkHandleValue(sum, 42); err != nil {
		return err
	}

	clamped, err := testEngine.TrySub(fhe.Zero(), h)
	if err != nil {
		return err
	}
	if err = checkHandleValue(clamped, 0); err != nil {
		return err
	}

	if !testEngine.IsAllowed(fhe.Zero(), uuid.New()) {
		return fmt.Errorf("zero handle should be readable by any principal")
	}
	return checkHandleValue(fhe.Zero(), 0)
}

// --- 外部输入部分 ---

func TestFromExternal(t *testing.T) {
	if err := initEngineTest(); err != nil {
		t.Fatal(err)
	}
	if err := testFromExternal(); err != nil {
		t.Error(err)
	}
}

func BenchmarkFromExternal(b *testing.B) {
	if err := initEngineTest(); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		ext, err := testAccount.MakeExternalInput(1234, testEngine.PublicKey())
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()
		if _, err = testEngine.FromExternal(ext); err != nil {
			b.Error(err)
		}
	}
}

func testFromExternal() error {
	h, err := makeHandle(1234)
	if err != nil {
		return err
	}
	if err = checkHandleValue(h, 1234); err != nil {
		return err
	}

	// 篡改密文字节，签名验证必须失败
	ext, err := testAccount.MakeExternalInput(1234, testEngine.PublicKey())
	if err != nil {
		return err
	}
	ext.Ciphertext[len(ext.Ciphertext)/2] ^= 0xff
	if _, err = testEngine.FromExternal(ext); !errors.Is(err, fhe.ErrInvalidProof) {
		return fmt.Errorf("expected ErrInvalidProof for tampered ciphertext, got %v", err)
	}

	// 用别人的密钥签名，但声称是自己的输入
	mallory, err := clientlib.NewAccount("Mallory")
	if err != nil {
		return err
	}
	forged, err := mallory.MakeExternalInput(1234, testEngine.PublicKey())
	if err != nil {
		return err
	}
	forged.Account = testAccount.Identifier
	if _, err = testEngine.FromExternal(forged); !errors.Is(err, fhe.ErrInvalidProof) {
		return fmt.Errorf("expected ErrInvalidProof for forged signature, got %v", err)
	}

	// 没登记过的账户
	stranger, err := clientlib.NewAccount("Stranger")
	if err != nil {
		return err
	}
	unknown, err := stranger.MakeExternalInput(1234, testEngine.PublicKey())
	if err != nil {
		return err
	}
	if _, err = testEngine.FromExternal(unknown); !errors.Is(err, fhe.ErrInvalidProof) {
		return fmt.Errorf("expected ErrInvalidProof for unknown account, got %v", err)
	}

	// 金额越过编码上界
	huge, err := testAccount.MakeExternalInput(fhe.MaxAmount*2, testEngine.PublicKey())
	if err != nil {
		return err
	}
	if _, err = testEngine.FromExternal(huge); !errors.Is(err, fhe.ErrAmountRange) {
		return fmt.Errorf("expected ErrAmountRange, got %v", err)
	}
	return nil
}

// --- 披露授权部分 ---

func TestRevealAccessControl(t *testing.T) {
	if err := initEngineTest(); err != nil {
		t.Fatal(err)
	}
	if err := testRevealAccessControl(); err != nil {
		t.Error(err)
	}
}

func BenchmarkReveal(b *testing.B) {
	if err := initEngineTest(); err != nil {
		b.Fatal(err)
	}
	h, err := makeHandle(1234)
	if err != nil {
		b.Fatal(err)
	}
	if err := testEngine.Allow(h, testAccount.Identifier); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := testEngine.Reveal(h, testAccount.Identifier); err != nil {
			b.Error(err)
		}
	}
}

func testRevealAccessControl() error {
	h, err := makeHandle(555)
	if err != nil {
		return err
	}

	bob, err := clientlib.NewAccount("Bob")
	if err != nil {
		return err
	}
	testEngine.RegisterPrincipal(bob.Identifier, bob.CKKSPublicKey(), bob.ECDSAPublicKey())

	// 没有授权的主体拿不到披露
	if _, err = testEngine.Reveal(h, bob.Identifier); !errors.Is(err, fhe.ErrNotAllowed) {
		return fmt.Errorf("expected ErrNotAllowed before grant, got %v", err)
	}

	if err = testEngine.Allow(h, bob.Identifier); err != nil {
		return err
	}
	ct, err := testEngine.Reveal(h, bob.Identifier)
	if err != nil {
		return err
	}
	got, err := bob.DecryptAmountFromCT(ct)
	if err != nil {
		return err
	}
	if got != 555 {
		return fmt.Errorf("decrypted amount is not equal to the expected amount, got %d, expected %d", got, 555)
	}

	// 纯计算方持有授权，但没有公钥可以接收披露
	computeParty := uuid.New()
	testEngine.RegisterComputeParty(computeParty)
	if err = testEngine.Allow(h, computeParty); err != nil {
		return err
	}
	if !testEngine.IsAllowed(h, computeParty) {
		return fmt.Errorf("compute party should hold the grant")
	}
	if _, err = testEngine.Reveal(h, computeParty); !errors.Is(err, fhe.ErrUnknownPrincipal) {
		return fmt.Errorf("expected ErrUnknownPrincipal for compute party, got %v", err)
	}

	// 未知句柄
	var bogus fhe.Handle
	bogus[0] = 0xab
	if _, err = testEngine.Reveal(bogus, bob.Identifier); !errors.Is(err, fhe.ErrUnknownHandle) {
		return fmt.Errorf("expected ErrUnknownHandle, got %v", err)
	}
	return nil
}

// --- 密封部分 ---

func TestSealAndRestore(t *testing.T) {
	if err := initEngineTest(); err != nil {
		t.Fatal(err)
	}
	if err := testSealAndRestore(); err != nil {
		t.Error(err)
	}
}

func testSealAndRestore() error {
	h, err := makeHandle(98765)
	if err != nil {
		return err
	}
	sealed, err := testEngine.Seal(h)
	if err != nil {
		return err
	}

	// 用同一条密钥链的新引擎重放，相当于服务端重启
	restored := fhe.NewEngineWithKeys(testEngine.Keys())
	restored.RegisterPrincipal(testAccount.Identifier,
		testAccount.CKKSPublicKey(), testAccount.ECDSAPublicKey())
	if err = restored.Unseal(h, h.Kind(), sealed); err != nil {
		return err
	}
	if err = restored.Allow(h, testAccount.Identifier); err != nil {
		return err
	}
	ct, err := restored.Reveal(h, testAccount.Identifier)
	if err != nil {
		return err
	}
	got, err := testAccount.DecryptAmountFromCT(ct)
	if err != nil {
		return err
	}
	if got != 98765 {
		return fmt.Errorf("restored amount is not equal to the sealed amount, got %d, expected %d", got, 98765)
	}

	// 布尔句柄密封后种类保持不变，select 仍可消费
	a, err := makeHandle(1)
	if err != nil {
		return err
	}
	b, err := makeHandle(2)
	if err != nil {
		return err
	}
	cond, err := testEngine.Le(a, b)
	if err != nil {
		return err
	}
	condSealed, err := testEngine.Seal(cond)
	if err != nil {
		return err
	}
	if err = restored.Unseal(cond, cond.Kind(), condSealed); err != nil {
		return err
	}
	x := restored.AsConstant(7)
	y := restored.AsConstant(9)
	picked, err := restored.Select(cond, x, y)
	if err != nil {
		return err
	}
	if err = restored.Allow(picked, testAccount.Identifier); err != nil {
		return err
	}
	ct, err = restored.Reveal(picked, testAccount.Identifier)
	if err != nil {
		return err
	}
	got, err = testAccount.DecryptAmountFromCT(ct)
	if err != nil {
		return err
	}
	if got != 7 {
		return fmt.Errorf("restored bool handle picked the wrong branch, got %d, expected %d", got, 7)
	}
	return nil
}
