package registry

import (
	"errors"
	"fmt"

	"SynthVault/internal/oracle"
	"SynthVault/internal/token"
)

var (
	// ErrLengthMismatch is returned when the parallel construction lists
	// differ in length.
	ErrLengthMismatch = errors.New("registry: asset, oracle, token and decimals lists must have equal length")

	// ErrEmptyRegistry is returned when no assets are supplied.
	ErrEmptyRegistry = errors.New("registry: at least one collateral asset is required")

	// ErrNilSyntheticToken is returned when the synthetic-asset
	// collaborator is absent.
	ErrNilSyntheticToken = errors.New("registry: synthetic token reference is required")

	// ErrUnknownAsset is returned for lookups of unregistered assets.
	ErrUnknownAsset = errors.New("registry: unknown asset")
)

// DecimalsOutOfRangeError reports a native-decimal count outside [0, 18].
type DecimalsOutOfRangeError struct {
	AssetID  string
	Decimals uint8
}

func (e *DecimalsOutOfRangeError) Error() string {
	return fmt.Sprintf("registry: asset %s has %d native decimals, must be in [0, 18]", e.AssetID, e.Decimals)
}

// Asset is one approved collateral asset with its oracle binding and
// native decimal precision. Immutable after construction.
type Asset struct {
	ID       string
	Oracle   oracle.PriceOracle
	Token    token.CollateralToken
	Decimals uint8
}

// Registry is the ordered set of approved collateral assets plus the
// synthetic-token collaborator. Built once at engine construction and
// read-only afterwards, so lookups take no lock.
type Registry struct {
	assets map[string]*Asset
	order  []string
	synth  token.SyntheticToken
}

// New builds a registry from parallel lists of asset identifiers, oracle
// references, collateral-token references and native decimal counts.
func New(
	assetIDs []string,
	oracles []oracle.PriceOracle,
	tokens []token.CollateralToken,
	decimals []uint8,
	synth token.SyntheticToken,
) (*Registry, error) {
	if len(assetIDs) != len(oracles) || len(assetIDs) != len(tokens) || len(assetIDs) != len(decimals) {
		return nil, ErrLengthMismatch
	}
	if len(assetIDs) == 0 {
		return nil, ErrEmptyRegistry
	}
	if synth == nil {
		return nil, ErrNilSyntheticToken
	}

	r := &Registry{
		assets: make(map[string]*Asset, len(assetIDs)),
		order:  make([]string, 0, len(assetIDs)),
		synth:  synth,
	}

	for i, id := range assetIDs {
		if decimals[i] > 18 {
			return nil, &DecimalsOutOfRangeError{AssetID: id, Decimals: decimals[i]}
		}
		if oracles[i] == nil {
			return nil, fmt.Errorf("registry: asset %s has no oracle binding", id)
		}
		if tokens[i] == nil {
			return nil, fmt.Errorf("registry: asset %s has no token binding", id)
		}
		if _, dup := r.assets[id]; dup {
			return nil, fmt.Errorf("registry: duplicate asset %s", id)
		}
		r.assets[id] = &Asset{
			ID:       id,
			Oracle:   oracles[i],
			Token:    tokens[i],
			Decimals: decimals[i],
		}
		r.order = append(r.order, id)
	}

	return r, nil
}

// Get returns the registered asset, or ErrUnknownAsset.
func (r *Registry) Get(assetID string) (*Asset, error) {
	a, ok := r.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return a, nil
}

// IsApproved reports whether an asset is registered.
func (r *Registry) IsApproved(assetID string) bool {
	_, ok := r.assets[assetID]
	return ok
}

// ApprovedAssets returns the asset identifiers in registration order.
func (r *Registry) ApprovedAssets() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Synthetic returns the synthetic-token collaborator.
func (r *Registry) Synthetic() token.SyntheticToken {
	return r.synth
}
