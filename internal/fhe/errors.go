package fhe

import "errors"

var (
	// ErrInvalidProof 表示外部输入的所有权证明验证失败。
	// 为了不向提交方泄露失败细节，所有验证环节共用这一个错误。
	ErrInvalidProof = errors.New("fhe: invalid ownership proof for external input")

	// ErrUnknownHandle 表示句柄不是由本引擎签发的。
	ErrUnknownHandle = errors.New("fhe: unknown ciphertext handle")

	// ErrUnknownPrincipal 表示主体没有在引擎中登记过。
	ErrUnknownPrincipal = errors.New("fhe: principal not registered")

	// ErrNotAllowed 表示主体没有持有目标密文的访问授权。
	ErrNotAllowed = errors.New("fhe: principal not allowed on ciphertext")

	// ErrKindMismatch 表示操作数类型不符，比如把布尔句柄当金额用。
	ErrKindMismatch = errors.New("fhe: ciphertext kind mismatch")

	// ErrAmountRange 表示金额超出引擎可无损编码的范围。
	ErrAmountRange = errors.New("fhe: amount outside encodable range")
)
