package wallet

import (
	"errors"
	"testing"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/internal/mempool"
	"github.com/datosdrive/datos/internal/storage"
	"github.com/datosdrive/datos/internal/token"
	"github.com/datosdrive/datos/internal/utxo"
	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
)

// fakeChain reports a fixed height.
type fakeChain struct {
	height uint64
}

func (f *fakeChain) Height() uint64 { return f.height }

// env wires a wallet to a real store, pool and validator.
type env struct {
	chain     *fakeChain
	store     *utxo.Store
	pool      *mempool.Pool
	validator *token.Validator
	wallet    *Wallet
	key       *crypto.PrivateKey
	owner     types.Address
}

func newEnv(t *testing.T) *env {
	t.Helper()
	chain := &fakeChain{height: 100}
	store := utxo.NewStore(storage.NewMemory())
	view := utxo.SetView{Set: store}

	claims, err := token.NewClaimSet(storage.NewMemory())
	if err != nil {
		t.Fatalf("claim set: %v", err)
	}
	validator := token.NewValidator(config.RegtestParams(), claims, nil)
	pool := mempool.New(view, validator, chain.Height, 0)

	w := New(chain, pool, view)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := w.ImportKey(key)

	return &env{
		chain:     chain,
		store:     store,
		pool:      pool,
		validator: validator,
		wallet:    w,
		key:       key,
		owner:     owner,
	}
}

func (e *env) plainScript() types.Script {
	return types.Script{Type: types.ScriptTypeP2PKH, Data: e.owner[:]}
}

func (e *env) tokenScript(t *testing.T, typ token.Type, uid uint64, name string) types.Script {
	t.Helper()
	rec := token.Token{Version: 1, Type: typ, UID: uid, Name: name}
	script, err := token.BuildTokenScript(rec, e.owner)
	if err != nil {
		t.Fatalf("build token script: %v", err)
	}
	return script
}

// fund stores a confirmed coin and registers it with the wallet.
func (e *env) fund(t *testing.T, b byte, value uint64, height uint64, script types.Script) types.Outpoint {
	t.Helper()
	u := &utxo.UTXO{
		Outpoint: types.Outpoint{TxID: types.Hash{b}, Index: 0},
		Value:    value,
		Script:   script,
		Height:   height,
	}
	if err := e.store.Put(u); err != nil {
		t.Fatalf("store utxo: %v", err)
	}
	e.wallet.AddUTXO(u)
	return u.Outpoint
}

func (e *env) signedSpend(t *testing.T, prevs []types.Outpoint, value uint64, script types.Script) *tx.Transaction {
	t.Helper()
	b := tx.NewBuilder()
	for _, op := range prevs {
		b.AddInput(op)
	}
	b.AddOutput(value, script)
	if err := b.Sign(e.key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return b.Build()
}

func TestFundMintFirstFit(t *testing.T) {
	e := newEnv(t)
	a := e.fund(t, 0x01, 300, 10, e.plainScript())
	b := e.fund(t, 0x02, 300, 10, e.plainScript())
	e.fund(t, 0x03, 1000, 10, e.plainScript())

	// First fit stops as soon as the running total covers the target,
	// in insertion order, even though the third coin alone would do.
	selected, err := e.wallet.FundMintTransaction(500)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(selected) != 2 || selected[0].Outpoint != a || selected[1].Outpoint != b {
		t.Errorf("expected the first two coins in order, got %d coins", len(selected))
	}
}

func TestFundMintSkipsTokenAndChecksum(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 0x01, 500, 10, e.tokenScript(t, token.TypeIssuance, 42, "GOLD"))
	e.fund(t, 0x02, 500, 10, types.Script{Type: types.ScriptTypeChecksum, Data: make([]byte, 20)})
	plain := e.fund(t, 0x03, 500, 10, e.plainScript())

	selected, err := e.wallet.FundMintTransaction(500)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(selected) != 1 || selected[0].Outpoint != plain {
		t.Error("only the plain output should fund a mint")
	}
}

func TestFundMintInsufficientReturnsNothing(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 0x01, 100, 10, e.plainScript())

	selected, err := e.wallet.FundMintTransaction(500)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if selected != nil {
		t.Error("failed funding must not return a partial selection")
	}
}

func TestConfirmationBoundary(t *testing.T) {
	e := newEnv(t)
	// Height 100, coin at height 100: exactly TokenMinConfs
	// confirmations, which is not strictly more. Excluded.
	e.fund(t, 0x01, 500, e.chain.height, e.plainScript())
	if _, err := e.wallet.FundMintTransaction(500); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("coin at the boundary should be excluded, got %v", err)
	}

	// One block deeper it becomes eligible.
	e.fund(t, 0x02, 500, e.chain.height-1, e.plainScript())
	selected, err := e.wallet.FundMintTransaction(500)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(selected) != 1 || selected[0].Height != e.chain.height-1 {
		t.Error("the deeper coin should fund the target")
	}
}

func TestFundSkipsMempoolReferenced(t *testing.T) {
	e := newEnv(t)
	busy := e.fund(t, 0x01, 500, 10, e.plainScript())
	free := e.fund(t, 0x02, 500, 10, e.plainScript())

	pending := e.signedSpend(t, []types.Outpoint{busy}, 400, e.plainScript())
	if _, err := e.pool.Add(pending); err != nil {
		t.Fatalf("add pending: %v", err)
	}

	selected, err := e.wallet.FundMintTransaction(500)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(selected) != 1 || selected[0].Outpoint != free {
		t.Error("the output referenced by a pending transaction must be skipped")
	}
}

func TestIndependentFundingSelectsDisjoint(t *testing.T) {
	e := newEnv(t)
	e.fund(t, 0x01, 500, 10, e.plainScript())
	e.fund(t, 0x02, 500, 10, e.plainScript())

	first, err := e.wallet.FundMintTransaction(500)
	if err != nil {
		t.Fatalf("first funding: %v", err)
	}
	// Committing the first selection to the pool removes it from the
	// candidate set of the second pass.
	spend := e.signedSpend(t, []types.Outpoint{first[0].Outpoint}, 400, e.plainScript())
	if _, err := e.pool.Add(spend); err != nil {
		t.Fatalf("add: %v", err)
	}

	second, err := e.wallet.FundMintTransaction(500)
	if err != nil {
		t.Fatalf("second funding: %v", err)
	}
	if second[0].Outpoint == first[0].Outpoint {
		t.Error("independent funding calls must select disjoint outpoints")
	}
}

func TestFundTokenTransaction(t *testing.T) {
	e := newEnv(t)
	gold := e.fund(t, 0x01, 100, 10, e.tokenScript(t, token.TypeIssuance, 42, "GOLD"))
	e.fund(t, 0x02, 100, 10, e.tokenScript(t, token.TypeIssuance, 43, "SILVER"))
	e.fund(t, 0x03, 100, 10, e.plainScript())

	selected, err := e.wallet.FundTokenTransaction("GOLD", 100)
	if err != nil {
		t.Fatalf("fund token: %v", err)
	}
	if len(selected) != 1 || selected[0].Outpoint != gold {
		t.Error("only the matching token output should be selected")
	}

	if _, err := e.wallet.FundTokenTransaction("BRONZE", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("unknown token: got %v, want ErrInsufficientFunds", err)
	}
}

func TestUnconfirmedTokenBalanceCountsOnce(t *testing.T) {
	e := newEnv(t)
	funding := e.fund(t, 0x01, 1000, 10, e.plainScript())

	issue := e.signedSpend(t, []types.Outpoint{funding}, 100, e.tokenScript(t, token.TypeIssuance, 42, "GOLD"))
	if _, err := e.pool.Add(issue); err != nil {
		t.Fatalf("add issuance: %v", err)
	}
	transfer := e.signedSpend(t,
		[]types.Outpoint{{TxID: issue.Hash(), Index: 0}},
		100, e.tokenScript(t, token.TypeTransfer, 42, "GOLD"))
	if _, err := e.pool.Add(transfer); err != nil {
		t.Fatalf("add transfer: %v", err)
	}

	balances, err := e.wallet.GetUnconfirmedTokenBalance(e.validator)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balances["GOLD"] != 100 {
		t.Errorf("GOLD balance = %d, want 100 (issuance consumed by its transfer counts once)", balances["GOLD"])
	}
}

// plantedPool serves a fixed transaction list, bypassing admission, so
// tests can seed entries the real pool would have rejected.
type plantedPool struct {
	txs []*tx.Transaction
}

func (p *plantedPool) Transactions() []*tx.Transaction { return p.txs }

func (p *plantedPool) SpenderOf(types.Outpoint) (types.Hash, bool) {
	return types.Hash{}, false
}

func (p *plantedPool) OverlayView() *utxo.Overlay { return nil }

func TestUnconfirmedTokenBalanceCorruptEntryAborts(t *testing.T) {
	e := newEnv(t)

	good := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddOutput(100, e.tokenScript(t, token.TypeIssuance, 42, "GOLD")).
		Build()
	// Zero identifier decodes but fails contextual validation.
	bad := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0x02}, Index: 0}).
		AddOutput(50, e.tokenScript(t, token.TypeIssuance, 0, "LEAD")).
		Build()

	w := New(e.chain, &plantedPool{txs: []*tx.Transaction{good, bad}}, utxo.SetView{Set: e.store})
	w.ImportKey(e.key)

	balances, err := w.GetUnconfirmedTokenBalance(e.validator)
	if !errors.Is(err, token.ErrCorruptMempool) {
		t.Fatalf("got %v, want ErrCorruptMempool", err)
	}
	if balances != nil {
		t.Errorf("partial balances %v returned alongside the abort", balances)
	}
}

func TestSignTokenTransaction(t *testing.T) {
	e := newEnv(t)
	prev := e.fund(t, 0x01, 100, 10, e.tokenScript(t, token.TypeIssuance, 42, "GOLD"))

	transfer := tx.NewBuilder().
		AddInput(prev).
		AddOutput(100, e.tokenScript(t, token.TypeTransfer, 42, "GOLD")).
		Build()
	if err := e.wallet.SignTokenTransaction(transfer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := transfer.VerifySignatures(); err != nil {
		t.Errorf("signed transaction should verify: %v", err)
	}
}

func TestSignMissingInput(t *testing.T) {
	e := newEnv(t)
	ghost := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0xff}, Index: 0}).
		AddOutput(100, e.plainScript()).
		Build()
	if err := e.wallet.SignTokenTransaction(ghost); !errors.Is(err, token.ErrInputNotFound) {
		t.Errorf("got %v, want ErrInputNotFound", err)
	}
}

func TestSignSingleNoOutput(t *testing.T) {
	e := newEnv(t)
	a := e.fund(t, 0x01, 100, 10, e.plainScript())
	b := e.fund(t, 0x02, 100, 10, e.plainScript())

	// Two inputs, one output: a SINGLE signature on the second input
	// has no matching output and must be refused.
	built := tx.NewBuilder().
		AddInput(a).
		AddInput(b).
		AddOutput(150, e.plainScript()).
		Build()
	built.Inputs[1].HashType = tx.SigHashSingle

	if err := e.wallet.SignTokenTransaction(built); !errors.Is(err, tx.ErrSingleNoOutput) {
		t.Errorf("got %v, want ErrSingleNoOutput", err)
	}
}

func TestSignMergesAttachedSignature(t *testing.T) {
	e := newEnv(t)
	a := e.fund(t, 0x01, 100, 10, e.plainScript())
	b := e.fund(t, 0x02, 100, 10, e.plainScript())

	built := tx.NewBuilder().
		AddInput(a).
		AddInput(b).
		AddOutput(150, e.plainScript()).
		Build()
	// Pre-sign the first input; the wallet must keep it and fill in the
	// second.
	if err := built.SignInput(0, e.key, tx.SigHashAll); err != nil {
		t.Fatalf("pre-sign: %v", err)
	}
	preSig := append([]byte(nil), built.Inputs[0].Signature...)

	if err := e.wallet.SignTokenTransaction(built); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if string(built.Inputs[0].Signature) != string(preSig) {
		t.Error("pre-attached signature must be preserved")
	}
	if len(built.Inputs[1].Signature) == 0 {
		t.Error("second input should have been signed")
	}
}

func TestSignRejectsForeignOwner(t *testing.T) {
	e := newEnv(t)
	stranger, _ := crypto.GenerateKey()
	foreign := crypto.AddressFromPubKey(stranger.PublicKey())
	prev := e.fund(t, 0x01, 100, 10, types.Script{Type: types.ScriptTypeP2PKH, Data: foreign[:]})

	built := tx.NewBuilder().AddInput(prev).AddOutput(100, e.plainScript()).Build()
	if err := e.wallet.SignTokenTransaction(built); !errors.Is(err, ErrNoKey) {
		t.Errorf("got %v, want ErrNoKey", err)
	}
}

func TestAbandonStale(t *testing.T) {
	e := newEnv(t)
	kept := e.fund(t, 0x01, 100, 10, e.plainScript())

	// An output the wallet remembers but the confirmed set lost, as
	// after a reorg.
	stale := &utxo.UTXO{
		Outpoint: types.Outpoint{TxID: types.Hash{0x02}, Index: 0},
		Value:    50,
		Script:   e.plainScript(),
		Height:   11,
	}
	e.wallet.AddUTXO(stale)

	if dropped := e.wallet.AbandonStale(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if !e.wallet.HasUTXO(kept) {
		t.Error("resolvable output must survive")
	}
	if e.wallet.HasUTXO(stale.Outpoint) {
		t.Error("unresolvable output must be dropped")
	}
}

func TestIsMine(t *testing.T) {
	e := newEnv(t)
	if !e.wallet.IsMine(e.plainScript()) {
		t.Error("own plain script should be mine")
	}
	if !e.wallet.IsMine(e.tokenScript(t, token.TypeIssuance, 42, "GOLD")) {
		t.Error("token script owned by our key should be mine")
	}

	stranger, _ := crypto.GenerateKey()
	foreign := crypto.AddressFromPubKey(stranger.PublicKey())
	if e.wallet.IsMine(types.Script{Type: types.ScriptTypeP2PKH, Data: foreign[:]}) {
		t.Error("foreign script should not be mine")
	}
	if e.wallet.IsMine(types.Script{Type: types.ScriptTypeChecksum, Data: make([]byte, 20)}) {
		t.Error("checksum script is never spendable")
	}
}
