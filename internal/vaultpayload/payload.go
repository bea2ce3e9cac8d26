// 包 vaultpayload 定义了客户端和服务端之间的请求结构体。
package vaultpayload

import "github.com/google/uuid"

// RegisterAccountReq 结构体表示了通信中的账户注册请求
// 其中 pubkeys 部分使用 base64 编码
type RegisterAccountReq struct {
	UUID         uuid.UUID `json:"uuid"`
	Name         string    `json:"name"`
	CKKS_pubkey  string    `json:"ckks_pubkey"`
	ECDSA_pubkey string    `json:"ecdsa_pubkey"`
}

// AmountOpReq 结构体表示了携带一个外部加密输入的金库请求，
// 质押、借款、还款、取回四种变迁共用这一个结构。
// 其中 ct 和 sig 部分使用 base64 编码
type AmountOpReq struct {
	Account uuid.UUID `json:"account"`
	CT      string    `json:"ct"`
	Sig     string    `json:"sig"`
}

// MintReq 结构体表示了增发请求。增发金额是公开的明文。
type MintReq struct {
	Account uuid.UUID `json:"account"`
	Amount  uint64    `json:"amount"`
}

// OperatorReq 结构体表示了代币划转授权请求。
// until 是授权过期的 unix 时间戳
type OperatorReq struct {
	Owner   uuid.UUID `json:"owner"`
	Spender uuid.UUID `json:"spender"`
	Until   int64     `json:"until"`
}

// BalanceReq 结构体表示了余额披露请求。
// 服务端把余额重加密到账户自己的公钥上返回
type BalanceReq struct {
	Account uuid.UUID `json:"account"`
}
