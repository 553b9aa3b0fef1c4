package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sponsorship is an authorization issued by the paymaster signer.
type Sponsorship struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Hash          common.Hash    `json:"hash"`
	Sender        common.Address `json:"sender"`
	Sponsor       common.Address `json:"sponsor"`
	Paymaster     common.Address `json:"paymaster"`
	ValidAfter    uint64         `json:"validAfter"`
	ValidUntil    uint64         `json:"validUntil"`
	PaymasterData hexutil.Bytes  `json:"paymasterData"`
	IssuedAt      time.Time      `json:"issuedAt"`
}
