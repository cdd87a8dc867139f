package token

import (
	"errors"
	"testing"

	"github.com/datosdrive/datos/config"
	"github.com/datosdrive/datos/internal/storage"
	"github.com/datosdrive/datos/internal/utxo"
	"github.com/datosdrive/datos/pkg/crypto"
	"github.com/datosdrive/datos/pkg/tx"
	"github.com/datosdrive/datos/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Token{
		{Version: 1, Type: TypeIssuance, UID: 42, Name: "GOLD"},
		{Version: 1, Type: TypeTransfer, UID: 42, Name: "GOLD", OriginTx: types.Hash{0xaa}},
		{Version: 1, Type: TypeIssuance, UID: 1, Name: "abc"},
		{Version: 1, Type: TypeIssuance, UID: ^uint64(0), Name: "twelvecharsx"},
	}
	for _, want := range cases {
		data, err := want.Encode()
		if err != nil {
			t.Fatalf("encode %v: %v", want, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %v: %v", want, err)
		}
		if got != want {
			t.Errorf("round trip: got %v, want %v", got, want)
		}
	}
}

func TestNameLengthBounds(t *testing.T) {
	for _, name := range []string{"", "ab", "thirteenchars"} {
		tok := Token{Version: 1, Type: TypeIssuance, UID: 1, Name: name}
		if _, err := tok.Encode(); !errors.Is(err, ErrNameLength) {
			t.Errorf("name %q: got %v, want ErrNameLength", name, err)
		}
	}
}

func TestEqualityByIdentityOnly(t *testing.T) {
	a := Token{Version: 1, Type: TypeIssuance, UID: 7, Name: "GOLD"}
	b := Token{Version: 1, Type: TypeTransfer, UID: 7, Name: "GOLD", OriginTx: types.Hash{0x01}}
	if !a.Equal(b) {
		t.Error("tokens with same (uid, name) must be equal regardless of type and origin")
	}
	c := Token{Version: 1, Type: TypeIssuance, UID: 8, Name: "GOLD"}
	if a.Equal(c) {
		t.Error("different uid must not compare equal")
	}
	d := Token{Version: 1, Type: TypeIssuance, UID: 7, Name: "SILVER"}
	if a.Equal(d) {
		t.Error("different name must not compare equal")
	}
}

func TestTokenScriptEndToEnd(t *testing.T) {
	owner := types.Address{0x11, 0x22}
	tok := Token{Version: 1, Type: TypeIssuance, UID: 42, Name: "GOLD"}
	script, err := BuildTokenScript(tok, owner)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !script.IsPayToToken() {
		t.Fatal("built script must carry the token tag")
	}

	got, gotOwner, ok, err := DecodeTokenScript(script)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if got != tok {
		t.Errorf("decoded %v, want %v", got, tok)
	}
	if gotOwner != owner {
		t.Errorf("decoded owner %v, want %v", gotOwner, owner)
	}

	uid, ok := GetTokenUIDFromScript(script)
	if !ok || uid != 42 {
		t.Errorf("fast path uid: got (%d, %v), want (42, true)", uid, ok)
	}
}

func TestDecodeTokenScriptTwoWay(t *testing.T) {
	// A plain payment script is not a token, not an error.
	addr := types.Address{0x01}
	plain := types.Script{Type: types.ScriptTypeP2PKH, Data: addr[:]}
	if _, _, ok, err := DecodeTokenScript(plain); ok || err != nil {
		t.Errorf("plain script: got (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	// The token tag with a truncated payload is malformed.
	broken := types.Script{Type: types.ScriptTypeToken, Data: []byte{0x01, 0x01, 0x02}}
	if _, _, ok, err := DecodeTokenScript(broken); ok || !errors.Is(err, ErrMalformedScript) {
		t.Errorf("truncated script: got (ok=%v, err=%v), want ErrMalformedScript", ok, err)
	}
}

func TestChecksumScript(t *testing.T) {
	sum := crypto.Hash160([]byte("aux data"))
	script := BuildChecksumScript(sum)
	if !script.IsChecksumData() {
		t.Fatal("built script must carry the checksum tag")
	}
	got, ok := DecodeChecksumScript(script)
	if !ok {
		t.Fatal("checksum script must decode")
	}
	if got != sum {
		t.Errorf("decoded commitment %x, want %x", got, sum)
	}

	addr := types.Address{0x01}
	plain := types.Script{Type: types.ScriptTypeP2PKH, Data: addr[:]}
	if _, ok := DecodeChecksumScript(plain); ok {
		t.Error("plain script must not decode as checksum")
	}
}

func TestClaimSetApplyRevert(t *testing.T) {
	db := storage.NewMemory()
	cs, err := NewClaimSet(db)
	if err != nil {
		t.Fatalf("new claim set: %v", err)
	}

	c := Claim{UID: 42, Name: "GOLD", OriginTx: types.Hash{0x01}, Height: 10}
	if err := cs.Apply(c); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Replaying the same claim is a no-op.
	if err := cs.Apply(c); err != nil {
		t.Errorf("reapply same claim: %v", err)
	}
	// A different uid for the same name is rejected.
	if err := cs.Apply(Claim{UID: 43, Name: "GOLD", OriginTx: types.Hash{0x02}}); !errors.Is(err, ErrNameTaken) {
		t.Errorf("conflicting apply: got %v, want ErrNameTaken", err)
	}
	// So is the same uid arriving from a different transaction.
	if err := cs.Apply(Claim{UID: 42, Name: "GOLD", OriginTx: types.Hash{0x03}}); !errors.Is(err, ErrNameTaken) {
		t.Errorf("copied identity apply: got %v, want ErrNameTaken", err)
	}

	// A revert keyed to some other transaction leaves the claim alone.
	if err := cs.Revert(42, "GOLD", types.Hash{0x03}); err != nil {
		t.Fatalf("foreign revert: %v", err)
	}
	if !cs.Has("GOLD") {
		t.Fatal("foreign revert must not release the live claim")
	}

	if err := cs.Revert(42, "GOLD", c.OriginTx); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if cs.Has("GOLD") {
		t.Error("name should be released after revert")
	}
	// Revert is idempotent.
	if err := cs.Revert(42, "GOLD", c.OriginTx); err != nil {
		t.Errorf("second revert: %v", err)
	}
}

func TestClaimSetPersistence(t *testing.T) {
	db := storage.NewMemory()
	cs, _ := NewClaimSet(db)
	cs.Apply(Claim{UID: 7, Name: "SILVER", Height: 3})

	// A fresh set over the same database sees the claim.
	reloaded, err := NewClaimSet(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get("SILVER")
	if !ok || got.UID != 7 || got.Height != 3 {
		t.Errorf("reloaded claim: got (%+v, %v)", got, ok)
	}
}

// fakeChain serves canned transactions per height.
type fakeChain struct {
	height uint64
	blocks map[uint64][]*tx.Transaction
}

func (f *fakeChain) Height() uint64 { return f.height }

func (f *fakeChain) TransactionsAt(height uint64) ([]*tx.Transaction, error) {
	return f.blocks[height], nil
}

// fakePool answers name-conflict queries from a fixed map.
type fakePool struct {
	names map[string]types.Hash
}

func (f *fakePool) TokenNameHeld(name string) (types.Hash, bool) {
	h, ok := f.names[name]
	return h, ok
}

// coinMap is a View over a fixed set of coins.
type coinMap map[types.Outpoint]utxo.Coin

func (m coinMap) AccessCoin(op types.Outpoint) utxo.Coin {
	c, ok := m[op]
	if !ok {
		return utxo.Coin{Spent: true}
	}
	return c
}

func issuanceTx(t *testing.T, uid uint64, name string, value, collateral uint64) *tx.Transaction {
	t.Helper()
	owner := types.Address{0x01}
	tok := Token{Version: 1, Type: TypeIssuance, UID: uid, Name: name}
	script, err := BuildTokenScript(tok, owner)
	if err != nil {
		t.Fatalf("build issuance script: %v", err)
	}
	b := tx.NewBuilder().
		AddInput(types.Outpoint{TxID: types.Hash{0xf0}, Index: 0}).
		AddOutput(value, script)
	if collateral > 0 {
		b.AddOutput(collateral, types.Script{Type: types.ScriptTypeP2PKH, Data: owner[:]})
	}
	return b.Build()
}

func testValidator(t *testing.T, chain *fakeChain) *Validator {
	t.Helper()
	cs, err := NewClaimSet(storage.NewMemory())
	if err != nil {
		t.Fatalf("claim set: %v", err)
	}
	params := config.RegtestParams()
	return NewValidator(params, cs, chain)
}

func TestIssuanceUniqueness(t *testing.T) {
	v := testValidator(t, &fakeChain{})

	first := issuanceTx(t, 42, "GOLD", 100, 0)
	if err := v.CheckTokenIssuance(first, 10, false); err != nil {
		t.Fatalf("first issuance: %v", err)
	}

	second := issuanceTx(t, 43, "GOLD", 50, 0)
	if err := v.CheckTokenIssuance(second, 11, true); !errors.Is(err, ErrNameTaken) {
		t.Errorf("second issuance: got %v, want ErrNameTaken", err)
	}
}

func TestIssuanceUniquenessCopiedIdentity(t *testing.T) {
	v := testValidator(t, &fakeChain{})

	original := issuanceTx(t, 42, "GOLD", 100, 0)
	if err := v.CheckTokenIssuance(original, 10, false); err != nil {
		t.Fatalf("original issuance: %v", err)
	}

	// A distinct transaction minting the live (uid, name) is still a
	// second issuance of the name.
	forged := issuanceTx(t, 42, "GOLD", 50, 0)
	if forged.Hash() == original.Hash() {
		t.Fatal("forged transaction must be distinct")
	}
	if err := v.CheckTokenIssuance(forged, 11, false); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("copied identity: got %v, want ErrNameTaken", err)
	}

	// Disconnecting the forgery must not release the original's claim.
	v.UndoTokenIssuancesInBlock([]*tx.Transaction{forged})
	got, ok := v.Claims().Get("GOLD")
	if !ok || got.OriginTx != original.Hash() {
		t.Errorf("after forged disconnect: claim (%+v, ok=%v), want original's", got, ok)
	}
}

func TestOnlyCheckDoesNotClaim(t *testing.T) {
	v := testValidator(t, &fakeChain{})
	if err := v.CheckTokenIssuance(issuanceTx(t, 42, "GOLD", 100, 0), 10, true); err != nil {
		t.Fatalf("pre-check: %v", err)
	}
	if v.Claims().Has("GOLD") {
		t.Error("onlyCheck must not record a claim")
	}
}

func TestReorgReleasesClaim(t *testing.T) {
	issue := issuanceTx(t, 42, "GOLD", 100, 0)
	chain := &fakeChain{height: 10, blocks: map[uint64][]*tx.Transaction{}}
	v := testValidator(t, chain)

	// Connect: the block's issuance records its claim.
	if err := v.CheckTokenIssuance(issue, 10, false); err != nil {
		t.Fatalf("connect: %v", err)
	}
	chain.blocks[10] = []*tx.Transaction{issue}

	// Disconnect: the claim is released and the chain no longer holds it.
	v.UndoTokenIssuancesInBlock(chain.blocks[10])
	delete(chain.blocks, 10)
	chain.height = 9

	if v.Claims().Has("GOLD") {
		t.Error("claim must be released on disconnect")
	}
	if _, found, err := v.FindLastTokenUse("GOLD", chain.height); err != nil || found {
		t.Errorf("after disconnect: found=%v err=%v, want no use", found, err)
	}
}

func TestFindLastTokenUse(t *testing.T) {
	issue := issuanceTx(t, 42, "GOLD", 100, 0)
	chain := &fakeChain{
		height: 12,
		blocks: map[uint64][]*tx.Transaction{10: {issue}},
	}
	v := testValidator(t, chain)

	op, found, err := v.FindLastTokenUse("GOLD", 12)
	if err != nil || !found {
		t.Fatalf("find: found=%v err=%v", found, err)
	}
	if op.TxID != issue.Hash() || op.Index != 0 {
		t.Errorf("got %v, want output 0 of the issuance", op)
	}

	if _, found, _ := v.FindLastTokenUse("SILVER", 12); found {
		t.Error("unissued name must not be found")
	}
}

func TestCheckTokenMempoolConflict(t *testing.T) {
	v := testValidator(t, &fakeChain{})
	pending := types.Hash{0xee}
	pool := &fakePool{names: map[string]types.Hash{"GOLD": pending}}

	other := issuanceTx(t, 43, "GOLD", 50, 0)
	if err := v.CheckTokenMempool(pool, other); !errors.Is(err, ErrMempoolConflict) {
		t.Errorf("got %v, want ErrMempoolConflict", err)
	}

	// The holder itself passes.
	holder := issuanceTx(t, 42, "GOLD", 100, 0)
	pool.names["GOLD"] = holder.Hash()
	if err := v.CheckTokenMempool(pool, holder); err != nil {
		t.Errorf("holder recheck: %v", err)
	}
}

func TestCheckTokenInputsIdentity(t *testing.T) {
	v := testValidator(t, &fakeChain{})
	owner := types.Address{0x01}

	issued := Token{Version: 1, Type: TypeIssuance, UID: 42, Name: "GOLD"}
	issuedScript, _ := BuildTokenScript(issued, owner)
	prev := types.Outpoint{TxID: types.Hash{0x10}, Index: 0}
	view := coinMap{prev: utxo.Coin{Value: 100, Script: issuedScript, Height: 1}}

	// Transfer carrying the same identity passes.
	okScript, _ := BuildTokenScript(issued.Transfer(), owner)
	okTx := tx.NewBuilder().AddInput(prev).AddOutput(100, okScript).Build()
	if err := v.CheckTokenInputs(okTx, view); err != nil {
		t.Errorf("matching transfer: %v", err)
	}

	// A forged name with the same uid is rejected.
	forged := Token{Version: 1, Type: TypeTransfer, UID: 42, Name: "SILVER"}
	forgedScript, _ := BuildTokenScript(forged, owner)
	forgedTx := tx.NewBuilder().AddInput(prev).AddOutput(100, forgedScript).Build()
	if err := v.CheckTokenInputs(forgedTx, view); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("forged transfer: got %v, want ErrIdentityMismatch", err)
	}

	// A spent input is a hard failure.
	gone := types.Outpoint{TxID: types.Hash{0x11}, Index: 0}
	goneTx := tx.NewBuilder().AddInput(gone).AddOutput(100, okScript).Build()
	if err := v.CheckTokenInputs(goneTx, view); !errors.Is(err, ErrInputNotFound) {
		t.Errorf("spent input: got %v, want ErrInputNotFound", err)
	}
}

func TestTransferMaturityBoundary(t *testing.T) {
	v := testValidator(t, &fakeChain{})
	owner := types.Address{0x01}

	issued := Token{Version: 1, Type: TypeIssuance, UID: 42, Name: "GOLD"}
	issuedScript, _ := BuildTokenScript(issued, owner)
	prev := types.Outpoint{TxID: types.Hash{0x10}, Index: 0}
	transferScript, _ := BuildTokenScript(issued.Transfer(), owner)
	transfer := tx.NewBuilder().AddInput(prev).AddOutput(100, transferScript).Build()

	// Included at height 10, spent at height 10: exactly one
	// confirmation, which is not strictly more than the minimum.
	view := coinMap{prev: utxo.Coin{Value: 100, Script: issuedScript, Height: 10}}
	if err := v.CheckToken(transfer, 10, view, true); !errors.Is(err, ErrInsufficientConfs) {
		t.Errorf("at minimum: got %v, want ErrInsufficientConfs", err)
	}

	// One block deeper it clears the bar.
	if err := v.CheckToken(transfer, 11, view, true); err != nil {
		t.Errorf("beyond minimum: %v", err)
	}
}

func TestIssuanceCollateral(t *testing.T) {
	cs, _ := NewClaimSet(storage.NewMemory())
	params := config.MainnetParams()
	v := NewValidator(params, cs, &fakeChain{})

	bare := issuanceTx(t, 42, "GOLD", 100, 0)
	if err := v.CheckTokenIssuance(bare, 2000, true); !errors.Is(err, ErrValueRange) {
		t.Errorf("no collateral: got %v, want ErrValueRange", err)
	}

	funded := issuanceTx(t, 42, "GOLD", 100, params.IssuanceCollateral)
	if err := v.CheckTokenIssuance(funded, 2000, true); err != nil {
		t.Errorf("funded issuance: %v", err)
	}
}

func TestTokenValueRange(t *testing.T) {
	v := testValidator(t, &fakeChain{})
	over := issuanceTx(t, 42, "GOLD", config.TokenValueMax+1, 0)
	if err := v.CheckTokenIssuance(over, 10, true); !errors.Is(err, ErrValueRange) {
		t.Errorf("over max: got %v, want ErrValueRange", err)
	}
}
