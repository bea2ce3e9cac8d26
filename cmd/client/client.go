package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/kr/pretty"
	"github.com/urfave/cli/v2"

	"github.com/MikuraDev/Mikura/internal/clientlib"
	"github.com/MikuraDev/Mikura/internal/fhe"
)

var (
	ConfigVerbose = false
)

// CLI
func main() {
	app := cli.App{
		Name:     "Mikura",
		HelpName: "Mikura-client",
		Version:  "0.99.indev",
		Usage:    "CLI Interface of Project Mikura/Client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Value: clientlib.DefaultServerURL,
				Usage: "server base URL",
			},
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "account name in the local database",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "print handles and raw results",
			},
		},
		Before: func(ctx *cli.Context) error {
			clientlib.ConfigServerURL = ctx.String("server")
			ConfigVerbose = ctx.Bool("verbose")
			return clientlib.CryptoInit()
		},
		Commands: []*cli.Command{
			registerCommand(),
			mintCommand(),
			approveCommand(),
			vaultOpCommand("stake", "stake tokens as collateral into the vault",
				(*clientlib.Client).StakeAmount),
			vaultOpCommand("borrow", "borrow against staked collateral",
				(*clientlib.Client).BorrowAmount),
			vaultOpCommand("repay", "repay borrowed tokens",
				(*clientlib.Client).RepayAmount),
			vaultOpCommand("withdraw", "withdraw free collateral from the vault",
				(*clientlib.Client).WithdrawAmount),
			balanceCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(color.RedString("✗ ") + err.Error())
	}
}

// --- 命令部分 ---

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "generate keys for a new account and register it with the server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Usage:    "account name",
				Required: true,
			},
		},
		Action: func(ctx *cli.Context) error {
			db, err := clientlib.InitDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			s, cleanup := startSpinner("Generating keys and registering...")
			defer cleanup()

			acct, err := clientlib.NewAccount(ctx.String("name"))
			if err != nil {
				return err
			}
			if err = acct.RegisterAccount(); err != nil {
				return err
			}
			if err = clientlib.StoreAccount(db, acct); err != nil {
				return err
			}

			s.FinalMSG = color.GreenString("✓") + " Registered account " +
				color.YellowString(acct.Name) + ", uuid = " + acct.Identifier.String() + "\n"
			return nil
		},
	}
}

func mintCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint",
		Usage: "mint tokens to the account (development faucet)",
		Flags: []cli.Flag{
			amountFlag(),
		},
		Action: func(ctx *cli.Context) error {
			c, err := loadClient(ctx)
			if err != nil {
				return err
			}
			defer c.Database.Close()

			s, cleanup := startSpinner("Minting...")
			defer cleanup()

			amount := ctx.Uint64("amount")
			if err := clientlib.Mint(c.MainAccount.Identifier, amount); err != nil {
				return err
			}

			s.FinalMSG = color.GreenString("✓") + fmt.Sprintf(" Minted %v tokens to %v\n",
				amount, color.YellowString(c.MainAccount.Name))
			return nil
		},
	}
}

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:  "approve",
		Usage: "authorize the vault to transfer the account's tokens",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "hours",
				Value: 24,
				Usage: "authorization lifetime in hours",
			},
		},
		Action: func(ctx *cli.Context) error {
			c, err := loadClient(ctx)
			if err != nil {
				return err
			}
			defer c.Database.Close()

			s, cleanup := startSpinner("Authorizing the vault...")
			defer cleanup()

			vaultID, err := clientlib.VaultID()
			if err != nil {
				return err
			}

			until := time.Now().Add(time.Duration(ctx.Int64("hours")) * time.Hour).Unix()
			if err := clientlib.SetOperator(c.MainAccount.Identifier, vaultID, until); err != nil {
				return err
			}

			s.FinalMSG = color.GreenString("✓") + " Vault " + vaultID.String() +
				" authorized until " + time.Unix(until, 0).Format(time.RFC3339) + "\n"
			return nil
		},
	}
}

// vaultOpCommand 生成四种金库变迁命令。
// 变迁在服务端的密文域里收敛，命令行只拿到句柄。
func vaultOpCommand(name, usage string,
	op func(*clientlib.Client, uint64) (fhe.Handle, fhe.Handle, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			amountFlag(),
		},
		Action: func(ctx *cli.Context) error {
			c, err := loadClient(ctx)
			if err != nil {
				return err
			}
			defer c.Database.Close()

			s, cleanup := startSpinner("Submitting " + name + " request...")
			defer cleanup()

			transferred, newTotal, err := op(c, ctx.Uint64("amount"))
			if err != nil {
				return err
			}

			s.FinalMSG = color.GreenString("✓") + " " + name + " accepted\n"
			if ConfigVerbose {
				s.FinalMSG += "  transferred handle: " + transferred.String() + "\n" +
					"  new total handle:   " + newTotal.String() + "\n"
			}
			return nil
		},
	}
}

type balanceReport struct {
	Wallet   uint64
	Staked   uint64
	Borrowed uint64
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "fetch and decrypt the account's balances",
		Action: func(ctx *cli.Context) error {
			c, err := loadClient(ctx)
			if err != nil {
				return err
			}
			defer c.Database.Close()

			s, cleanup := startSpinner("Fetching balances...")
			defer cleanup()

			var report balanceReport
			if report.Wallet, err = c.WalletBalance(); err != nil {
				return err
			}
			if report.Staked, err = c.StakedBalance(); err != nil {
				return err
			}
			if report.Borrowed, err = c.BorrowedBalance(); err != nil {
				return err
			}

			s.FinalMSG = color.YellowString(c.MainAccount.Name) + "\n" +
				color.CyanString("  wallet:   ") + fmt.Sprint(report.Wallet) + "\n" +
				color.CyanString("  staked:   ") + fmt.Sprint(report.Staked) + "\n" +
				color.CyanString("  borrowed: ") + fmt.Sprint(report.Borrowed) + "\n"

			if ConfigVerbose {
				_, _ = pretty.Println(report)
			}
			return nil
		},
	}
}

// --- Helper Func 部分 ---

func amountFlag() cli.Flag {
	return &cli.Uint64Flag{
		Name:     "amount",
		Aliases:  []string{"n"},
		Usage:    "token amount",
		Required: true,
	}
}

// loadClient 打开客户端数据库并选出主账户。
// 本地只有一个账户时可以省略 --account。
func loadClient(ctx *cli.Context) (*clientlib.Client, error) {
	db, err := clientlib.InitDatabase()
	if err != nil {
		return nil, err
	}

	if name := ctx.String("account"); name != "" {
		acct, err := clientlib.LoadAccountByName(db, name)
		if err != nil {
			return nil, err
		}
		return &clientlib.Client{Database: db, MainAccount: *acct}, nil
	}

	accts, err := clientlib.ListAccounts(db)
	if err != nil {
		return nil, err
	}
	switch len(accts) {
	case 0:
		return nil, fmt.Errorf("no account in local database, run register first")
	case 1:
		acct, err := clientlib.LoadAccount(db, accts[0].Identifier)
		if err != nil {
			return nil, err
		}
		return &clientlib.Client{Database: db, MainAccount: *acct}, nil
	default:
		return nil, fmt.Errorf("multiple accounts found, pick one with --account")
	}
}

// startSpinner 在请求期间显示转轮，verbose 模式下不启动。
// 返回的清理函数负责停掉转轮并补印最终消息。
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	_ = s.Color("cyan")

	if !ConfigVerbose {
		s.Start()
	}

	cleanup := func() {
		finalMsg := s.FinalMSG
		s.FinalMSG = ""
		if s.Active() {
			s.Stop()
		}
		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}
	return s, cleanup
}
