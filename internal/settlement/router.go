// Package settlement moves the assets exchanged during a liquidation:
// repayment flows from the buyer into the join account, collateral flows
// from the join account to the recipient.
package settlement

import (
	"fmt"

	"AuctionLedger/internal/token"
)

// Router settles buys against two fungible ledgers. The join account
// holds pooled collateral and receives repayments; buyers approve the
// router identity on the base ledger before buying.
type Router struct {
	base       *token.Ledger
	collateral *token.Ledger
	join       string
	spender    string
}

func NewRouter(base, collateral *token.Ledger, joinAccount, spenderID string) *Router {
	return &Router{
		base:       base,
		collateral: collateral,
		join:       joinAccount,
		spender:    spenderID,
	}
}

// Settle pulls repayment base currency from the buyer and pushes the
// bought collateral to the recipient. Insufficient balance or allowance
// aborts with nothing moved; a failed collateral push refunds the pull.
func (r *Router) Settle(vaultID, buyer, recipient string, collateralAmt, repayment int64) error {
	if err := r.base.TransferFrom(r.spender, buyer, r.join, repayment); err != nil {
		return fmt.Errorf("settle %s: pull repayment: %w", vaultID, err)
	}
	if err := r.collateral.Transfer(r.join, recipient, collateralAmt); err != nil {
		if refundErr := r.base.Transfer(r.join, buyer, repayment); refundErr != nil {
			return fmt.Errorf("settle %s: push collateral: %v; refund failed: %w", vaultID, err, refundErr)
		}
		return fmt.Errorf("settle %s: push collateral: %w", vaultID, err)
	}
	return nil
}
