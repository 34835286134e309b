package lending

import (
	"context"
	"fmt"

	"peerlend/core/events"
)

func (tx *txn) requireGovernance(caller [20]byte) error {
	cfg, err := tx.feeConfig()
	if err != nil {
		return err
	}
	if cfg.Governance == ([20]byte{}) || cfg.Governance != caller {
		return ErrUnauthorized
	}
	return nil
}

// SetFee sets the protocol fee in basis points, at most MaxFeeBps.
func (e *Engine) SetFee(ctx context.Context, caller [20]byte, feeBps uint64) error {
	return e.execute(ctx, "set_fee", false, func(tx *txn) error {
		if err := tx.requireGovernance(caller); err != nil {
			return err
		}
		if feeBps > MaxFeeBps {
			return fmt.Errorf("%w: fee above %d bps", ErrConfigInvalid, MaxFeeBps)
		}
		if err := tx.updateFee(func(cfg *FeeConfig) { cfg.FeeBps = feeBps }); err != nil {
			return err
		}
		tx.emit(events.FeeUpdated{FeeBps: feeBps})
		return nil
	})
}

// SetFeeReceiver redirects future protocol fees.
func (e *Engine) SetFeeReceiver(ctx context.Context, caller, receiver [20]byte) error {
	return e.execute(ctx, "set_fee_receiver", false, func(tx *txn) error {
		if err := tx.requireGovernance(caller); err != nil {
			return err
		}
		if receiver == ([20]byte{}) {
			return fmt.Errorf("%w: fee receiver must be set", ErrConfigInvalid)
		}
		if err := tx.updateFee(func(cfg *FeeConfig) { cfg.Receiver = receiver }); err != nil {
			return err
		}
		tx.emit(events.FeeReceiverUpdated{Receiver: receiver})
		return nil
	})
}

// TransferGovernance hands the privileged role to next.
func (e *Engine) TransferGovernance(ctx context.Context, caller, next [20]byte) error {
	return e.execute(ctx, "transfer_governance", false, func(tx *txn) error {
		if err := tx.requireGovernance(caller); err != nil {
			return err
		}
		if next == ([20]byte{}) {
			return fmt.Errorf("%w: governance must be set", ErrConfigInvalid)
		}
		if err := tx.updateFee(func(cfg *FeeConfig) { cfg.Governance = next }); err != nil {
			return err
		}
		tx.emit(events.GovernanceTransferred{Previous: caller, Next: next})
		return nil
	})
}

// SetPaused halts or resumes every non-governance mutation.
func (e *Engine) SetPaused(ctx context.Context, caller [20]byte, paused bool) error {
	return e.execute(ctx, "set_paused", false, func(tx *txn) error {
		if err := tx.requireGovernance(caller); err != nil {
			return err
		}
		if err := tx.updateFee(func(cfg *FeeConfig) { cfg.Paused = paused }); err != nil {
			return err
		}
		tx.emit(events.LedgerPauseChanged{Paused: paused})
		return nil
	})
}
