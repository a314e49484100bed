package engine

import (
	"math/big"
	"sync/atomic"
	"time"

	"SynthVault/internal/event"
	"SynthVault/internal/ledger"
	"SynthVault/internal/observability"
	"SynthVault/internal/pricing"
	"SynthVault/internal/registry"
	"SynthVault/internal/solvency"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Output carries one committed record to the persistence and publish workers.
type Output struct {
	Record *event.Record
}

// Engine orchestrates all state-changing vault operations. Every public
// operation is all-or-nothing: it either commits fully (ledger mutated,
// token calls done, record emitted) or leaves the ledger untouched.
//
// A single reentrancy latch guards all mutations. Token collaborators run
// while the latch is held, so any callback they make into a state-changing
// operation fails with ErrReentrantCall. Queries never take the latch.
type Engine struct {
	reg     *registry.Registry
	led     *ledger.Ledger
	prices  *pricing.Normalizer
	checker *solvency.Checker

	// vaultID is the custody account holding all deposited collateral on
	// the token contracts.
	vaultID uuid.UUID

	busy atomic.Bool

	// sequence is written under the latch but read latch-free by the
	// query and snapshot paths, so it is atomic.
	sequence atomic.Int64
	hasher   *StateHasher

	persistChan chan<- Output
	publishChan chan<- Output

	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(
	reg *registry.Registry,
	led *ledger.Ledger,
	prices *pricing.Normalizer,
	checker *solvency.Checker,
	vaultID uuid.UUID,
	persistChan, publishChan chan<- Output,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Engine {
	e := &Engine{
		reg:         reg,
		led:         led,
		prices:      prices,
		checker:     checker,
		vaultID:     vaultID,
		hasher:      NewStateHasher(),
		persistChan: persistChan,
		publishChan: publishChan,
		log:         log,
		metrics:     metrics,
	}
	e.sequence.Store(1)
	return e
}

// enter acquires the reentrancy latch.
func (e *Engine) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		if e.metrics != nil {
			e.metrics.ReentrancyHits.Inc()
		}
		return ErrReentrantCall
	}
	return nil
}

// exit releases the latch. Deferred on every entry path.
func (e *Engine) exit() {
	e.busy.Store(false)
}

// commit assigns a sequence, extends the hash chain, and emits the record.
// The persist send blocks (no record may be lost); the publish send drops
// on a full channel since subscribers can rebuild from the operation log.
func (e *Engine) commit(rec *event.Record) {
	seq := e.sequence.Load()
	rec.Sequence = seq
	rec.Timestamp = time.Now().UTC()
	rec.PrevHash = e.hasher.GetPrevHash()
	rec.StateHash = e.hasher.ComputeHash(seq, ComputeStateDigest(e.led))
	e.sequence.Store(seq + 1)

	out := Output{Record: rec}
	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(rec.Type.String()).Inc()
		e.metrics.EngineSequence.Set(float64(seq + 1))
	}

	e.log.Info().
		Int64("sequence", rec.Sequence).
		Str("op", rec.Type.String()).
		Str("user", rec.User.String()).
		Msg("operation committed")
}

// reject records a failed operation. The ledger is already restored when
// this is called.
func (e *Engine) reject(op, reason string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
	}
	e.log.Debug().Str("op", op).Str("reason", reason).Err(err).Msg("operation rejected")
	return err
}

// observe records the wall time of one latched operation.
func (e *Engine) observe(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// ============================================================================
// Deposit
// ============================================================================

// DepositCollateral moves collateral from the user into vault custody and
// credits their ledger record.
func (e *Engine) DepositCollateral(user uuid.UUID, assetID string, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.observe("Deposit", time.Now())

	rec, err := e.depositCollateral(user, assetID, amount)
	if err != nil {
		return err
	}
	e.commit(rec)
	return nil
}

// depositCollateral assumes the latch is held. The ledger is credited
// before the token pull so the solvency view the transfer callback might
// observe already includes the deposit; a failed pull rolls the credit back.
func (e *Engine) depositCollateral(user uuid.UUID, assetID string, amount *big.Int) (*event.Record, error) {
	const op = "Deposit"

	if !validAmount(amount) {
		return nil, e.reject(op, "zero_amount", ErrAmountZero)
	}
	if !e.reg.IsApproved(assetID) {
		return nil, e.reject(op, "asset_not_allowed", &CollateralNotAllowedError{AssetID: assetID})
	}
	asset, err := e.reg.Get(assetID)
	if err != nil {
		return nil, e.reject(op, "asset_not_allowed", err)
	}

	e.led.Deposit(user, assetID, amount)

	if err := asset.Token.Transfer(user, e.vaultID, amount); err != nil {
		if rbErr := e.led.Withdraw(user, assetID, amount); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("deposit rollback failed")
		}
		return nil, e.reject(op, "transfer_failed", &TransferFailedError{AssetID: assetID, Err: err})
	}

	if e.metrics != nil {
		e.metrics.CollateralDeposited.WithLabelValues(assetID).Inc()
	}
	return &event.Record{
		RecordID: uuid.New(),
		Type:     event.RecordTypeDeposit,
		User:     user,
		Caller:   user,
		AssetID:  assetID,
		Amount:   new(big.Int).Set(amount),
	}, nil
}

// ============================================================================
// Mint
// ============================================================================

// MintSynth issues synthetic tokens against the user's collateral, recording
// the full amount as debt. Fails if the resulting position would sit below
// the minimum health factor.
func (e *Engine) MintSynth(user uuid.UUID, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.observe("Mint", time.Now())

	rec, err := e.mintSynth(user, amount)
	if err != nil {
		return err
	}
	e.commit(rec)
	return nil
}

// mintSynth assumes the latch is held. Debt is recorded first so the
// solvency check evaluates the post-mint position; the external mint runs
// last, after the position is known to be safe.
func (e *Engine) mintSynth(user uuid.UUID, amount *big.Int) (*event.Record, error) {
	const op = "Mint"

	if !validAmount(amount) {
		return nil, e.reject(op, "zero_amount", ErrAmountZero)
	}

	e.led.MintDebt(user, amount)

	if err := e.checker.AssertHealthy(user); err != nil {
		if rbErr := e.led.BurnDebt(user, amount); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("mint rollback failed")
		}
		return nil, e.reject(op, "breaks_health_factor", err)
	}

	if err := e.reg.Synthetic().Mint(user, amount); err != nil {
		if rbErr := e.led.BurnDebt(user, amount); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("mint rollback failed")
		}
		return nil, e.reject(op, "mint_failed", &MintFailedError{Err: err})
	}

	if e.metrics != nil {
		e.metrics.SynthMinted.Inc()
	}
	return &event.Record{
		RecordID:    uuid.New(),
		Type:        event.RecordTypeMint,
		User:        user,
		Caller:      user,
		DebtCovered: new(big.Int).Set(amount),
	}, nil
}

// ============================================================================
// Burn
// ============================================================================

// BurnSynth retires synthetic tokens from the user's own balance and clears
// the matching debt. Burning only raises the health factor, so no solvency
// check runs.
func (e *Engine) BurnSynth(user uuid.UUID, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.observe("Burn", time.Now())

	rec, err := e.burnSynth(user, user, amount)
	if err != nil {
		return err
	}
	e.commit(rec)
	return nil
}

// burnSynth assumes the latch is held. The debt record is cleared first so
// a debt shortfall fails before any tokens move; payer is the account the
// tokens are pulled from (the liquidator during liquidation).
func (e *Engine) burnSynth(user, payer uuid.UUID, amount *big.Int) (*event.Record, error) {
	const op = "Burn"

	if !validAmount(amount) {
		return nil, e.reject(op, "zero_amount", ErrAmountZero)
	}

	if err := e.led.BurnDebt(user, amount); err != nil {
		return nil, e.reject(op, "insufficient_debt", err)
	}

	if err := e.reg.Synthetic().Burn(payer, amount); err != nil {
		e.led.MintDebt(user, amount)
		return nil, e.reject(op, "burn_failed", &BurnFailedError{Err: err})
	}

	if e.metrics != nil {
		e.metrics.SynthBurned.Inc()
	}
	return &event.Record{
		RecordID:    uuid.New(),
		Type:        event.RecordTypeBurn,
		User:        user,
		Caller:      payer,
		DebtCovered: new(big.Int).Set(amount),
	}, nil
}

// ============================================================================
// Redeem
// ============================================================================

// RedeemCollateral returns deposited collateral to the user. Fails if the
// withdrawal would leave their remaining position below the minimum health
// factor.
func (e *Engine) RedeemCollateral(user uuid.UUID, assetID string, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.observe("Redeem", time.Now())

	rec, err := e.redeemCollateral(user, assetID, amount)
	if err != nil {
		return err
	}
	e.commit(rec)
	return nil
}

// redeemCollateral assumes the latch is held. The ledger debit happens
// first, the solvency check evaluates the post-withdrawal position, and
// the token payout runs last with a ledger rollback on failure.
func (e *Engine) redeemCollateral(user uuid.UUID, assetID string, amount *big.Int) (*event.Record, error) {
	const op = "Redeem"

	if !validAmount(amount) {
		return nil, e.reject(op, "zero_amount", ErrAmountZero)
	}
	if !e.reg.IsApproved(assetID) {
		return nil, e.reject(op, "asset_not_allowed", &CollateralNotAllowedError{AssetID: assetID})
	}
	asset, err := e.reg.Get(assetID)
	if err != nil {
		return nil, e.reject(op, "asset_not_allowed", err)
	}

	if err := e.led.Withdraw(user, assetID, amount); err != nil {
		return nil, e.reject(op, "insufficient_collateral", err)
	}

	if err := e.checker.AssertHealthy(user); err != nil {
		e.led.Deposit(user, assetID, amount)
		return nil, e.reject(op, "breaks_health_factor", err)
	}

	if err := asset.Token.Transfer(e.vaultID, user, amount); err != nil {
		e.led.Deposit(user, assetID, amount)
		return nil, e.reject(op, "transfer_failed", &TransferFailedError{AssetID: assetID, Err: err})
	}

	if e.metrics != nil {
		e.metrics.CollateralRedeemed.WithLabelValues(assetID).Inc()
	}
	return &event.Record{
		RecordID: uuid.New(),
		Type:     event.RecordTypeRedeem,
		User:     user,
		Caller:   user,
		AssetID:  assetID,
		Amount:   new(big.Int).Set(amount),
	}, nil
}

// ============================================================================
// Composites
// ============================================================================

// DepositAndMint deposits collateral and mints synthetic tokens in one
// latched call. If the mint leg fails, the deposit leg is unwound, token
// transfer included, before returning the mint error.
func (e *Engine) DepositAndMint(user uuid.UUID, assetID string, amount, synthAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.observe("DepositAndMint", time.Now())

	depositRec, err := e.depositCollateral(user, assetID, amount)
	if err != nil {
		return err
	}

	mintRec, err := e.mintSynth(user, synthAmount)
	if err != nil {
		// Unwind the deposit: debit the ledger, then send the collateral
		// back to the user.
		if rbErr := e.led.Withdraw(user, assetID, amount); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("composite deposit unwind failed")
		}
		asset, getErr := e.reg.Get(assetID)
		if getErr == nil {
			if rbErr := asset.Token.Transfer(e.vaultID, user, amount); rbErr != nil {
				e.log.Error().Err(rbErr).Msg("composite collateral return failed")
			}
		}
		return err
	}

	e.commit(depositRec)
	e.commit(mintRec)
	return nil
}

// RedeemForBurn burns synthetic tokens and redeems collateral in one
// latched call. The burn runs first so the solvency check inside the
// redeem leg sees the reduced debt. If the redeem leg fails, the burn is
// unwound by re-recording the debt and re-minting the tokens.
func (e *Engine) RedeemForBurn(user uuid.UUID, assetID string, amount, synthAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	defer e.observe("RedeemForBurn", time.Now())

	burnRec, err := e.burnSynth(user, user, synthAmount)
	if err != nil {
		return err
	}

	redeemRec, err := e.redeemCollateral(user, assetID, amount)
	if err != nil {
		e.led.MintDebt(user, synthAmount)
		if rbErr := e.reg.Synthetic().Mint(user, synthAmount); rbErr != nil {
			e.log.Error().Err(rbErr).Msg("composite burn unwind failed")
		}
		return err
	}

	e.commit(burnRec)
	e.commit(redeemRec)
	return nil
}

// ============================================================================
// Reads
// ============================================================================

// HealthFactorOf reports the user's current health factor. Latch-free.
func (e *Engine) HealthFactorOf(user uuid.UUID) (*big.Int, error) {
	return e.checker.HealthFactor(user)
}

// AccountValueOf reports the user's total collateral value in 18-decimal
// value units. Latch-free.
func (e *Engine) AccountValueOf(user uuid.UUID) (*big.Int, error) {
	return e.checker.AccountValue(user)
}

// CollateralOf reports the user's deposited balance for one asset.
func (e *Engine) CollateralOf(user uuid.UUID, assetID string) *big.Int {
	return e.led.BalanceOf(user, assetID)
}

// DebtOf reports the user's outstanding synthetic debt.
func (e *Engine) DebtOf(user uuid.UUID) *big.Int {
	return e.led.DebtOf(user)
}

// Sequence returns the next sequence the engine will assign.
func (e *Engine) Sequence() int64 {
	return e.sequence.Load()
}

// StateHash returns the current hash chain tip.
func (e *Engine) StateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// RestoreState primes the engine from a persisted snapshot before it
// starts serving: next sequence and chain tip.
func (e *Engine) RestoreState(lastSequence int64, stateHash [32]byte) {
	e.sequence.Store(lastSequence + 1)
	e.hasher.SetPrevHash(stateHash)
}

// WithStableState runs fn while holding the operation latch, so the ledger,
// sequence and chain tip it sees belong to a single committed state. Used
// by the snapshotter.
func (e *Engine) WithStableState(fn func(led *ledger.Ledger, lastSequence int64, stateHash [32]byte)) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	fn(e.led, e.sequence.Load()-1, e.hasher.GetPrevHash())
	return nil
}
