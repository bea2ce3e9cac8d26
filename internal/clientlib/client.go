package clientlib

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tuneinsight/lattigo/v4/rlwe"

	"github.com/MikuraDev/Mikura/internal/fhe"
)

// Client 把客户端数据库、主账户和服务端交互捆在一起，
// 供命令行工具调用。
type Client struct {
	Database    *sql.DB
	MainAccount Account

	// 缓存的引擎公钥，首次用到时从服务端取回
	enginePk *rlwe.PublicKey
}

func NewClient(dbPath string, mainAccount Account) (c *Client, err error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{Database: db, MainAccount: mainAccount}, err
}

// EnginePublicKey 返回引擎公钥，没有缓存时从服务端取回。
func (c *Client) EnginePublicKey() (*rlwe.PublicKey, error) {
	if c.enginePk != nil {
		return c.enginePk, nil
	}
	pk, err := FetchEnginePublicKey()
	if err != nil {
		return nil, err
	}
	c.enginePk = pk
	return pk, nil
}

// --- 金库任务 ---

func (c *Client) StakeAmount(amount uint64) (transferred, newTotal fhe.Handle, err error) {
	pk, err := c.EnginePublicKey()
	if err != nil {
		return
	}
	return c.MainAccount.Stake(amount, pk)
}

func (c *Client) BorrowAmount(amount uint64) (transferred, newTotal fhe.Handle, err error) {
	pk, err := c.EnginePublicKey()
	if err != nil {
		return
	}
	return c.MainAccount.Borrow(amount, pk)
}

func (c *Client) RepayAmount(amount uint64) (transferred, newTotal fhe.Handle, err error) {
	pk, err := c.EnginePublicKey()
	if err != nil {
		return
	}
	return c.MainAccount.Repay(amount, pk)
}

func (c *Client) WithdrawAmount(amount uint64) (transferred, newTotal fhe.Handle, err error) {
	pk, err := c.EnginePublicKey()
	if err != nil {
		return
	}
	return c.MainAccount.Withdraw(amount, pk)
}

// --- 余额任务 ---

// StakedBalance 取回并解密主账户的质押额。
func (c *Client) StakedBalance() (uint64, error) {
	ct, err := GetStakedBalance(c.MainAccount.Identifier)
	if err != nil {
		return 0, err
	}
	return c.MainAccount.DecryptAmountFromCT(ct)
}

// BorrowedBalance 取回并解密主账户的借款额。
func (c *Client) BorrowedBalance() (uint64, error) {
	ct, err := GetBorrowedBalance(c.MainAccount.Identifier)
	if err != nil {
		return 0, err
	}
	return c.MainAccount.DecryptAmountFromCT(ct)
}

// WalletBalance 取回并解密主账户的代币余额。
func (c *Client) WalletBalance() (uint64, error) {
	ct, err := GetWalletBalance(c.MainAccount.Identifier)
	if err != nil {
		return 0, err
	}
	return c.MainAccount.DecryptAmountFromCT(ct)
}
