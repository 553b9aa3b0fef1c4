// Command sponsorsign signs a sponsorship for a user operation offline, using
// the same key and binding as the paymaster service.
//
//	sponsorsign --sponsor 0x... [--op userop.json] [--valid-for 10m | --valid-after N --valid-until N]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethaccount/paymaster/erc4337"
	"github.com/ethaccount/paymaster/paymaster"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	opFlag = &cli.StringFlag{
		Name:  "op",
		Value: "-",
		Usage: "Path to the user operation JSON, - for STDIN",
	}
	sponsorFlag = &cli.StringFlag{
		Name:     "sponsor",
		Usage:    "Sponsor address charged for the operation",
		Required: true,
	}
	validForFlag = &cli.DurationFlag{
		Name:  "valid-for",
		Value: 10 * time.Minute,
		Usage: "Window length from now, ignored when --valid-after or --valid-until is set",
	}
	validAfterFlag = &cli.Uint64Flag{
		Name:  "valid-after",
		Usage: "Window start in unix seconds",
	}
	validUntilFlag = &cli.Uint64Flag{
		Name:  "valid-until",
		Usage: "Window end in unix seconds",
	}
)

type output struct {
	Paymaster        common.Address `json:"paymaster"`
	Sponsor          common.Address `json:"sponsor"`
	ValidAfter       uint64         `json:"validAfter"`
	ValidUntil       uint64         `json:"validUntil"`
	Hash             common.Hash    `json:"hash"`
	PaymasterData    hexutil.Bytes  `json:"paymasterData"`
	UserOpHash       common.Hash    `json:"userOpHash"`
	RequiredPrefund  *hexutil.Big   `json:"requiredPrefund"`
	SignerAddress    common.Address `json:"signer"`
	SignatureRecover common.Address `json:"recovered"`
}

func main() {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Error loading .env file: %v", err)
		}
	}

	app := cli.NewApp()
	app.Name = "sponsorsign"
	app.Usage = "sign a paymaster sponsorship for a user operation"
	app.Flags = []cli.Flag{
		opFlag,
		sponsorFlag,
		validForFlag,
		validAfterFlag,
		validUntilFlag,
	}
	app.Action = sign

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func sign(c *cli.Context) error {
	sponsorHex := c.String(sponsorFlag.Name)
	if !common.IsHexAddress(sponsorHex) {
		return fmt.Errorf("--sponsor must be a valid address")
	}
	sponsor := common.HexToAddress(sponsorHex)

	privateKeyHex := os.Getenv("PRIVATE_KEY")
	if privateKeyHex == "" {
		return fmt.Errorf("PRIVATE_KEY not set in environment")
	}
	signer, err := paymaster.NewSignerFromHex(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	paymasterHex := os.Getenv("PAYMASTER_ADDRESS")
	if !common.IsHexAddress(paymasterHex) {
		return fmt.Errorf("PAYMASTER_ADDRESS not set to a valid address in environment")
	}
	paymasterAddress := common.HexToAddress(paymasterHex)

	chainID, err := resolveChainID(os.Getenv("CHAIN_ID"), os.Getenv("RPC_URL"))
	if err != nil {
		return fmt.Errorf("failed to resolve chain id: %w", err)
	}

	entryPoint := erc4337.EntryPointV07
	if ep := os.Getenv("ENTRY_POINT"); common.IsHexAddress(ep) {
		entryPoint = common.HexToAddress(ep)
	}

	userOp, err := readUserOp(c.String(opFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to parse user operation: %w", err)
	}

	window := resolveWindow(windowFlags{
		validAfter:    c.Uint64(validAfterFlag.Name),
		validUntil:    c.Uint64(validUntilFlag.Name),
		validFor:      c.Duration(validForFlag.Name),
		explicitBound: c.IsSet(validAfterFlag.Name) || c.IsSet(validUntilFlag.Name),
	}, time.Now())

	hash, err := paymaster.ComputeHash(userOp, sponsor, window, paymaster.Binding{
		ChainID:   chainID,
		Paymaster: paymasterAddress,
	})
	if err != nil {
		return fmt.Errorf("failed to compute paymaster hash: %w", err)
	}

	signature, err := signer.SignHash(hash)
	if err != nil {
		return fmt.Errorf("failed to sign paymaster hash: %w", err)
	}

	paymasterData, err := paymaster.EncodePayload(&paymaster.Payload{
		Sponsor:   sponsor,
		Window:    window,
		Signature: signature,
	})
	if err != nil {
		return fmt.Errorf("failed to encode paymaster data: %w", err)
	}

	recovered, err := paymaster.RecoverSigner(hash, signature)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}

	sponsored := userOp.WithPaymasterData(paymasterAddress, paymasterData)
	userOpHash, err := sponsored.UserOpHash(entryPoint, chainID)
	if err != nil {
		return fmt.Errorf("failed to calculate user operation hash: %w", err)
	}

	out, err := json.MarshalIndent(output{
		Paymaster:        paymasterAddress,
		Sponsor:          sponsor,
		ValidAfter:       window.ValidAfter,
		ValidUntil:       window.ValidUntil,
		Hash:             hash,
		PaymasterData:    paymasterData,
		UserOpHash:       userOpHash,
		RequiredPrefund:  (*hexutil.Big)(paymaster.RequiredPrefund(sponsored)),
		SignerAddress:    signer.Address(),
		SignatureRecover: recovered,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

type windowFlags struct {
	validAfter    uint64
	validUntil    uint64
	validFor      time.Duration
	explicitBound bool
}

// resolveWindow uses the explicit bounds when either was given and otherwise
// [now, now+validFor].
func resolveWindow(f windowFlags, now time.Time) paymaster.ValidityWindow {
	if f.explicitBound || f.validFor <= 0 {
		return paymaster.ValidityWindow{ValidAfter: f.validAfter, ValidUntil: f.validUntil}
	}
	start := uint64(now.Unix())
	return paymaster.ValidityWindow{ValidAfter: start, ValidUntil: start + uint64(f.validFor/time.Second)}
}

func readUserOp(path string) (*erc4337.UserOperation, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var userOp erc4337.UserOperation
	if err := json.NewDecoder(r).Decode(&userOp); err != nil {
		return nil, err
	}
	return &userOp, nil
}

// resolveChainID prefers CHAIN_ID and falls back to asking the node.
func resolveChainID(chainIDStr, rpcURL string) (*big.Int, error) {
	if chainIDStr != "" {
		chainID, ok := new(big.Int).SetString(chainIDStr, 0)
		if !ok || chainID.Sign() <= 0 {
			return nil, fmt.Errorf("invalid CHAIN_ID %q", chainIDStr)
		}
		return chainID, nil
	}
	if rpcURL == "" {
		return nil, fmt.Errorf("CHAIN_ID or RPC_URL must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := erc4337.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	defer node.Close()

	return node.ChainId(ctx)
}
