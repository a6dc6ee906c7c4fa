// Package preexec implements the constructor pre-execution stage: it
// replays a contract's deployment bytecode against a real EVM, via
// go-ethereum's github.com/ethereum/go-ethereum/core/vm/runtime package,
// to snapshot the storage the constructor writes and to recover where
// the runtime code segment begins.
//
// This mirrors the original Rust translator's approach (vm.rs), which
// drives the external "evm" crate's Runtime/StackExecutor over a
// MemoryBackend rather than hand-rolling interpretation: pre-execution
// is a real, if stripped-down, EVM run, not a purpose-built toy.
package preexec

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/txerr"
)

const component = "preexec"

// Config configures the one-shot constructor execution.
type Config struct {
	// Address is the 20-byte address ADDRESS returns, derived from the
	// target Move account address.
	Address [20]byte
	// CtorArgs is the ABI-encoded constructor argument blob appended
	// after the deployment bytecode by the enclosing pipeline.
	CtorArgs []byte
}

// Snapshot is the result of a successful pre-execution: the runtime code
// segment to hand to the rest of the pipeline, and the storage slots the
// constructor wrote.
type Snapshot struct {
	RuntimeCode []byte
	Storage     map[[32]byte]uint256.Int
	// Warnings records documented semantic gaps triggered during
	// pre-execution (e.g. GAS folded to max), so callers can surface
	// them instead of silently swallowing the simplification.
	Warnings []string
}

// chainConfig enables every fork through Constantinople from genesis, the
// same literal shape go-ethereum's own core/vm/runtime benchmarks use,
// so SHL/SHR/SAR and the rest of the modern opcode set are available to
// constructor code without having to track a real chain's history.
func chainConfig() *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:             big.NewInt(1),
		HomesteadBlock:      new(big.Int),
		ByzantiumBlock:      new(big.Int),
		ConstantinopleBlock: new(big.Int),
		DAOForkBlock:        new(big.Int),
		DAOForkSupport:      false,
		EIP150Block:         new(big.Int),
		EIP155Block:         new(big.Int),
		EIP158Block:         new(big.Int),
	}
}

// Run executes initCode (the full deployment bytecode, constructor logic
// followed by the runtime code it will CODECOPY and RETURN) to
// completion and returns the recovered runtime segment plus storage
// snapshot.
//
// A revert or abort during pre-execution is fatal to the whole
// translation: the target module cannot reproduce side effects the
// source itself refused to perform.
func Run(initCode []byte, cfg Config) (*Snapshot, error) {
	log := logrus.WithFields(logrus.Fields{"stage": component, "init_len": len(initCode)})
	log.Debug("pre-executing constructor")

	statedb, err := state.New(types.EmptyRootHash, state.NewDatabaseForTesting())
	if err != nil {
		return nil, txerr.Wrap(txerr.ConstructorRevert, component, -1, err, "failed to set up pre-execution state")
	}

	addr := common.Address(cfg.Address)
	statedb.CreateAccount(addr)
	statedb.SetCode(addr, initCode)

	trace := newExecTrace(addr)

	runtimeCfg := &runtime.Config{
		// Origin, Coinbase, Difficulty, BlockNumber and Time are all left
		// at their zero values, and the account under pre-execution is
		// never funded: there is no real chain context to supply during
		// constructor pre-execution, so ORIGIN, COINBASE, DIFFICULTY,
		// NUMBER, TIMESTAMP and BALANCE all fold to zero by simply
		// running against a zeroed context rather than special-casing
		// each opcode (spec.md §9). GasLimit is set far beyond any real
		// block's to approximate "GAS/GASLIMIT fold to U256::MAX".
		Origin:      common.Address{},
		State:       statedb,
		GasLimit:    math.MaxUint64,
		Difficulty:  new(big.Int),
		Time:        0,
		Coinbase:    common.Address{},
		BlockNumber: new(big.Int),
		ChainConfig: chainConfig(),
		EVMConfig:   vm.Config{Tracer: trace.hooks()},
	}

	ret, _, runErr := runtime.Call(addr, cfg.CtorArgs, runtimeCfg)
	if runErr != nil {
		return nil, txerr.Wrap(txerr.ConstructorRevert, component, -1, runErr, "constructor reverted during pre-execution")
	}

	runtimeCode := ret
	if !trace.sawReturn {
		// No explicit RETURN means the constructor never deployed a
		// distinct runtime segment (e.g. a minimal fixture with no
		// CODECOPY); fall back to treating the whole input as runtime
		// code so callers can still exercise the rest of the pipeline.
		runtimeCode = initCode
	}

	return &Snapshot{
		RuntimeCode: runtimeCode,
		Storage:     trace.storage,
		Warnings:    trace.warningList(),
	}, nil
}
