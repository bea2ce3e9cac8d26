package clientlib_test

import (
	"fmt"
	"testing"

	"github.com/tuneinsight/lattigo/v4/ckks"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/clientlib"
	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/misc"
)

func TestCKKSEncryptAndDecrypt(t *testing.T) {
	params, _ := ckks.NewParametersFromLiteral(ckks.PN12QP109)
	keyGen := ckks.NewKeyGenerator(params)
	sk, pk := keyGen.GenKeyPair()
	if res, err := testCKKSEncryptAndDecrypt(sk, pk); !res {
		t.Error(err)
	}
}

func BenchmarkCKKSEncryptAndDecrypt(b *testing.B) {
	params, _ := ckks.NewParametersFromLiteral(ckks.PN12QP109)
	keyGen := ckks.NewKeyGenerator(params)
	sk, pk := keyGen.GenKeyPair()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if res, err := testCKKSEncryptAndDecrypt(sk, pk); !res {
			b.Error(err)
		}
	}
}

func testCKKSEncryptAndDecrypt(sk *rlwe.SecretKey, pk *rlwe.PublicKey) (bool, error) {
	// 创建一个随机金额
	randAmount := misc.GenRandAmount(fhe.MaxAmount)

	ct := clientlib.CKKSEncryptAmount(randAmount, pk)
	decrypted := clientlib.CKKSDecryptAmountFromCT(ct, sk)

	if decrypted != randAmount {
		return false, fmt.Errorf("decrypted amount is not equal to the original amount, got %d, expected %d", decrypted, randAmount)
	}

	return true, nil
}

// 金额上界处的编码必须仍然无损
func TestCKKSEncryptAtMaxAmount(t *testing.T) {
	params, _ := ckks.NewParametersFromLiteral(ckks.PN12QP109)
	keyGen := ckks.NewKeyGenerator(params)
	sk, pk := keyGen.GenKeyPair()

	for _, amount := range []uint64{0, 1, fhe.MaxAmount - 1, fhe.MaxAmount} {
		ct := clientlib.CKKSEncryptAmount(amount, pk)
		decrypted := clientlib.CKKSDecryptAmountFromCT(ct, sk)
		if decrypted != amount {
			t.Errorf("decrypted amount is not equal to the original amount, got %d, expected %d", decrypted, amount)
		}
	}
}

func TestCryptoInit(t *testing.T) {
	if err := clientlib.CryptoInit(); err != nil {
		t.Fatal(err)
	}
	if clientlib.CKKSEncoder == nil {
		t.Error("CKKSEncoder is not initialized")
	}
}
