package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wallet-engine/pkg/metrics/memory"
	"wallet-engine/pkg/wallet"
)

// fakeStore implements Store with per-wallet mutexes so the concurrent
// lock-ordering behavior of the real database can be exercised.
type fakeStore struct {
	mu        sync.Mutex
	wallets   map[int64]*wallet.Wallet
	byAccount map[int64]int64
	ledger    []*wallet.LedgerRecord
	locks     map[int64]*sync.Mutex

	nextLedgerID int64
	txOpened     int32
	lockCalls    int32
	unsortedLock int32
}

func newFakeStore(wallets ...*wallet.Wallet) *fakeStore {
	s := &fakeStore{
		wallets:   make(map[int64]*wallet.Wallet),
		byAccount: make(map[int64]int64),
		locks:     make(map[int64]*sync.Mutex),
	}
	for _, w := range wallets {
		cp := *w
		s.wallets[w.ID] = &cp
		s.byAccount[w.AccountID] = w.ID
		s.locks[w.ID] = &sync.Mutex{}
	}
	return s
}

func (s *fakeStore) FindWalletByAccount(ctx context.Context, accountID int64) (*wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAccount[accountID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	cp := *s.wallets[id]
	return &cp, nil
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	atomic.AddInt32(&s.txOpened, 1)

	tx := &fakeTx{store: s, staged: make(map[int64]*wallet.Wallet)}
	err := fn(tx)
	if err == nil {
		s.mu.Lock()
		for id, w := range tx.staged {
			cp := *w
			s.wallets[id] = &cp
		}
		s.ledger = append(s.ledger, tx.appended...)
		s.mu.Unlock()
	}

	for i := len(tx.held) - 1; i >= 0; i-- {
		s.locks[tx.held[i]].Unlock()
	}
	return err
}

func (s *fakeStore) balance(walletID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[walletID].Balance
}

func (s *fakeStore) ledgerLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

type fakeTx struct {
	store    *fakeStore
	held     []int64
	staged   map[int64]*wallet.Wallet
	appended []*wallet.LedgerRecord
}

func (t *fakeTx) WalletByAccount(ctx context.Context, accountID int64) (*wallet.Wallet, error) {
	return t.store.FindWalletByAccount(ctx, accountID)
}

func (t *fakeTx) LockWallets(ctx context.Context, ids []int64) (map[int64]*wallet.Wallet, error) {
	atomic.AddInt32(&t.store.lockCalls, 1)
	for i := 1; i < len(ids); i++ {
		if ids[i] < ids[i-1] {
			atomic.AddInt32(&t.store.unsortedLock, 1)
		}
	}

	out := make(map[int64]*wallet.Wallet, len(ids))
	for _, id := range ids {
		t.store.mu.Lock()
		lock, ok := t.store.locks[id]
		t.store.mu.Unlock()
		if !ok {
			continue
		}
		lock.Lock()
		t.held = append(t.held, id)

		t.store.mu.Lock()
		cp := *t.store.wallets[id]
		t.store.mu.Unlock()
		out[id] = &cp
	}
	return out, nil
}

func (t *fakeTx) SaveWallet(ctx context.Context, w *wallet.Wallet) error {
	cp := *w
	t.staged[w.ID] = &cp
	return nil
}

func (t *fakeTx) AppendLedger(ctx context.Context, payerWalletID, payeeWalletID int64, kind wallet.TransactionKind, amount int64) (*wallet.LedgerRecord, error) {
	rec := &wallet.LedgerRecord{
		ID:            atomic.AddInt64(&t.store.nextLedgerID, 1),
		PayerWalletID: payerWalletID,
		PayeeWalletID: payeeWalletID,
		Kind:          kind,
		Amount:        amount,
		CreatedAt:     time.Now(),
	}
	t.appended = append(t.appended, rec)
	return rec, nil
}

type fakeDirectory struct {
	accounts map[int64]*wallet.Account
	lookups  int32
}

func newFakeDirectory(accounts ...*wallet.Account) *fakeDirectory {
	d := &fakeDirectory{accounts: make(map[int64]*wallet.Account)}
	for _, a := range accounts {
		d.accounts[a.ID] = a
	}
	return d
}

func (d *fakeDirectory) FindAccount(ctx context.Context, id int64) (*wallet.Account, error) {
	atomic.AddInt32(&d.lookups, 1)
	a, ok := d.accounts[id]
	if !ok {
		return nil, wallet.ErrAccountNotFound
	}
	return a, nil
}

type fakeAuthorizer struct {
	answer Authorization
	calls  int32
}

func (a *fakeAuthorizer) Authorize(ctx context.Context) Authorization {
	atomic.AddInt32(&a.calls, 1)
	return a.answer
}

func approve() *fakeAuthorizer {
	return &fakeAuthorizer{answer: Authorization{Outcome: AuthorizationApproved}}
}

type fakeNotifier struct {
	mu       sync.Mutex
	received []TransferNotification
	err      error
}

func (n *fakeNotifier) NotifyTransferCompleted(ctx context.Context, tn TransferNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.received = append(n.received, tn)
	return nil
}

func (n *fakeNotifier) notifications() []TransferNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]TransferNotification(nil), n.received...)
}

func standardAccount(id int64, name string) *wallet.Account {
	return &wallet.Account{ID: id, Name: name, Type: wallet.AccountStandard}
}

func newTestEngine(store Store, dir *fakeDirectory, auth Authorizer, notifier Notifier, config Config) *Engine {
	return New(store, dir, auth, notifier, config, nil, nil)
}

func TestDeposit_Success(t *testing.T) {
	store := newFakeStore(&wallet.Wallet{ID: 10, AccountID: 1, Balance: 0})
	dir := newFakeDirectory(standardAccount(1, "Alice"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Deposit(context.Background(), 1, 10000)

	if !result.OK() {
		t.Fatalf("deposit failed: %d %s", result.Status, result.Message)
	}
	if result.Wallet.Balance != 10000 {
		t.Errorf("balance = %d, want 10000", result.Wallet.Balance)
	}
	if store.balance(10) != 10000 {
		t.Errorf("persisted balance = %d, want 10000", store.balance(10))
	}
	if store.ledgerLen() != 1 {
		t.Fatalf("ledger records = %d, want 1", store.ledgerLen())
	}
	rec := result.Transaction
	if rec.Kind != wallet.KindDeposit {
		t.Errorf("kind = %s, want deposit", rec.Kind)
	}
	if rec.PayerWalletID != 10 || rec.PayeeWalletID != 10 {
		t.Errorf("deposit record must be self-referential, got %d -> %d", rec.PayerWalletID, rec.PayeeWalletID)
	}
}

func TestDeposit_InvalidAmount_NeverTouchesStore(t *testing.T) {
	store := newFakeStore(&wallet.Wallet{ID: 10, AccountID: 1})
	dir := newFakeDirectory(standardAccount(1, "Alice"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	for _, amount := range []int64{0, -1, -10000} {
		result := e.Deposit(context.Background(), 1, amount)
		if result.Status != http.StatusUnprocessableEntity {
			t.Errorf("Deposit(%d) status = %d, want 422", amount, result.Status)
		}
	}
	if store.txOpened != 0 {
		t.Errorf("unit-of-work opened %d times for invalid amounts", store.txOpened)
	}
	if dir.lookups != 0 {
		t.Errorf("directory consulted %d times for invalid amounts", dir.lookups)
	}
}

func TestDeposit_MerchantForbidden(t *testing.T) {
	store := newFakeStore(&wallet.Wallet{ID: 10, AccountID: 1, Balance: 500})
	dir := newFakeDirectory(&wallet.Account{ID: 1, Name: "Shop", Type: wallet.AccountMerchant})
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Deposit(context.Background(), 1, 1000)

	if result.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", result.Status)
	}
	if store.txOpened != 0 {
		t.Error("unit-of-work opened for forbidden deposit")
	}
	if store.balance(10) != 500 {
		t.Error("wallet touched by forbidden deposit")
	}
}

func TestDeposit_AccountNotFound(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(store, newFakeDirectory(), approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Deposit(context.Background(), 99, 1000)
	if result.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", result.Status)
	}
}

func TestDeposit_WalletNotFound_AbortsUnitOfWork(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory(standardAccount(1, "Alice"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Deposit(context.Background(), 1, 1000)

	if result.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", result.Status)
	}
	if store.ledgerLen() != 0 {
		t.Error("ledger written despite aborted unit-of-work")
	}
}

func TestTransfer_Success(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 15000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 5000},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	notifier := &fakeNotifier{}
	e := newTestEngine(store, dir, approve(), notifier, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 10000)

	if !result.OK() {
		t.Fatalf("transfer failed: %d %s", result.Status, result.Message)
	}
	if store.balance(10) != 5000 {
		t.Errorf("payer balance = %d, want 5000", store.balance(10))
	}
	if store.balance(20) != 15000 {
		t.Errorf("payee balance = %d, want 15000", store.balance(20))
	}
	if store.ledgerLen() != 1 {
		t.Fatalf("ledger records = %d, want 1", store.ledgerLen())
	}
	rec := result.Transaction
	if rec.Kind != wallet.KindTransfer || rec.PayerWalletID != 10 || rec.PayeeWalletID != 20 || rec.Amount != 10000 {
		t.Errorf("unexpected ledger record: %+v", rec)
	}
	if result.Wallet.ID != 10 || result.Wallet.Balance != 5000 {
		t.Errorf("result wallet snapshot = %+v, want payer wallet at 5000", result.Wallet)
	}

	got := notifier.notifications()
	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if got[0].RecipientAccountID != 2 {
		t.Errorf("notification recipient = %d, want 2", got[0].RecipientAccountID)
	}
	if !strings.Contains(got[0].Message, "100.00") || !strings.Contains(got[0].Message, "Alice") {
		t.Errorf("notification message = %q", got[0].Message)
	}
}

func TestTransfer_SameAccount_RejectedBeforeLookup(t *testing.T) {
	store := newFakeStore()
	dir := newFakeDirectory(standardAccount(1, "Alice"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 1, 1000)

	if result.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", result.Status)
	}
	if dir.lookups != 0 {
		t.Errorf("directory consulted %d times before same-account rejection", dir.lookups)
	}
}

func TestTransfer_InsufficientBalance_NothingMutated(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 500},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if result.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", result.Status)
	}
	if store.balance(10) != 500 || store.balance(20) != 0 {
		t.Error("balances changed by failed transfer")
	}
	if store.ledgerLen() != 0 {
		t.Error("ledger written by failed transfer")
	}
}

func TestTransfer_MerchantPayerForbidden(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(
		&wallet.Account{ID: 1, Name: "Shop", Type: wallet.AccountMerchant},
		standardAccount(2, "Bob"),
	)
	auth := approve()
	e := newTestEngine(store, dir, auth, &fakeNotifier{}, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if result.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", result.Status)
	}
	if auth.calls != 0 {
		t.Error("authorizer consulted for forbidden payer")
	}
}

func TestTransfer_PayeeNotFound(t *testing.T) {
	store := newFakeStore(&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000})
	dir := newFakeDirectory(standardAccount(1, "Alice"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if result.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", result.Status)
	}
	if !strings.Contains(result.Message, "Payee") {
		t.Errorf("message = %q, want payee side distinguished", result.Message)
	}
}

func TestTransfer_Denied_NoWalletTouched(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	auth := &fakeAuthorizer{answer: Authorization{
		Outcome:    AuthorizationDenied,
		Reason:     "Authorization denied by external service.",
		StatusHint: http.StatusForbidden,
	}}
	e := newTestEngine(store, dir, auth, &fakeNotifier{}, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if result.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", result.Status)
	}
	if result.Message != "Authorization denied by external service." {
		t.Errorf("message = %q, want gate reason surfaced", result.Message)
	}
	if store.txOpened != 0 {
		t.Error("unit-of-work opened for denied transfer")
	}
	if store.balance(10) != 5000 || store.balance(20) != 0 {
		t.Error("wallets touched by denied transfer")
	}
}

func TestTransfer_AuthorizerUnavailable(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	auth := &fakeAuthorizer{answer: Authorization{Outcome: AuthorizationUnavailable}}
	e := newTestEngine(store, dir, auth, &fakeNotifier{}, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if result.Status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", result.Status)
	}
	if store.txOpened != 0 {
		t.Error("unit-of-work opened while authorizer unavailable")
	}
}

func TestTransfer_NotifierFailureDoesNotFailTransfer(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	notifier := &fakeNotifier{err: errors.New("queue full")}
	e := newTestEngine(store, dir, approve(), notifier, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if !result.OK() {
		t.Fatalf("transfer failed because of notifier: %d %s", result.Status, result.Message)
	}
	if store.balance(10) != 4000 || store.balance(20) != 1000 {
		t.Error("transfer not committed")
	}
}

func TestTransfer_LockingDisabled(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, Config{UsePessimisticLock: false})

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if !result.OK() {
		t.Fatalf("transfer failed: %d %s", result.Status, result.Message)
	}
	if store.lockCalls != 0 {
		t.Errorf("LockWallets called %d times with locking disabled", store.lockCalls)
	}
}

// Two opposing transfers contending for the same wallet pair must both
// complete: the ascending-id lock order means neither can hold a
// partial lock set while waiting on the other.
func TestTransfer_ConcurrentOpposingTransfers(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 10000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 10000},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	e := newTestEngine(store, dir, approve(), &fakeNotifier{}, DefaultConfig())

	const rounds = 50
	var wg sync.WaitGroup
	errs := make(chan string, rounds*2)

	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if r := e.Transfer(context.Background(), 1, 2, 100); !r.OK() {
				errs <- fmt.Sprintf("A->B: %d %s", r.Status, r.Message)
			}
		}()
		go func() {
			defer wg.Done()
			if r := e.Transfer(context.Background(), 2, 1, 100); !r.OK() {
				errs <- fmt.Sprintf("B->A: %d %s", r.Status, r.Message)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("concurrent transfers deadlocked")
	}
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}

	if store.unsortedLock != 0 {
		t.Errorf("LockWallets received unsorted ids %d times", store.unsortedLock)
	}
	// Equal opposing amounts: both balances must end where they began.
	if store.balance(10) != 10000 || store.balance(20) != 10000 {
		t.Errorf("final balances %d/%d, want 10000/10000", store.balance(10), store.balance(20))
	}
	if store.ledgerLen() != rounds*2 {
		t.Errorf("ledger records = %d, want %d", store.ledgerLen(), rounds*2)
	}
}

// Every operation ends in exactly one metric sample, labelled by its
// outcome class.
func TestEngine_RecordsOperationOutcomes(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	collector := memory.NewMemoryCollector()
	e := New(store, dir, approve(), &fakeNotifier{}, DefaultConfig(), nil, collector)

	ctx := context.Background()
	e.Deposit(ctx, 1, 1000)
	e.Deposit(ctx, 99, 1000) // unknown account
	e.Transfer(ctx, 1, 2, 1000)
	e.Transfer(ctx, 1, 2, 100000) // insufficient balance

	cases := []struct {
		op, outcome string
		want        int64
	}{
		{"deposit", "success", 1},
		{"deposit", "not_found", 1},
		{"transfer", "success", 1},
		{"transfer", "rejected", 1},
	}
	for _, tc := range cases {
		if got := collector.OperationCount(tc.op, tc.outcome); got != tc.want {
			t.Errorf("OperationCount(%q, %q) = %d, want %d", tc.op, tc.outcome, got, tc.want)
		}
	}

	denied := &fakeAuthorizer{answer: Authorization{Outcome: AuthorizationDenied, StatusHint: http.StatusForbidden}}
	e = New(store, dir, denied, &fakeNotifier{}, DefaultConfig(), nil, collector)
	e.Transfer(ctx, 1, 2, 100)
	if got := collector.OperationCount("transfer", "forbidden"); got != 1 {
		t.Errorf("OperationCount(transfer, forbidden) = %d, want 1", got)
	}
}

func TestTransfer_UnexpectedStoreFaultIsMasked(t *testing.T) {
	store := newFakeStore(
		&wallet.Wallet{ID: 10, AccountID: 1, Balance: 5000},
		&wallet.Wallet{ID: 20, AccountID: 2, Balance: 0},
	)
	dir := newFakeDirectory(standardAccount(1, "Alice"), standardAccount(2, "Bob"))
	e := newTestEngine(&faultyStore{store}, dir, approve(), &fakeNotifier{}, DefaultConfig())

	result := e.Transfer(context.Background(), 1, 2, 1000)

	if result.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", result.Status)
	}
	if result.Message != "Unexpected error." {
		t.Errorf("message = %q, backend wording must not leak", result.Message)
	}
}

// faultyStore fails every unit-of-work with a driver-style error.
type faultyStore struct {
	*fakeStore
}

func (s *faultyStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return errors.New("pq: connection reset by peer")
}
