package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fanlore/fanlore/internal/audit/domain"
	auditrepo "github.com/fanlore/fanlore/internal/audit/repository"
	auditservice "github.com/fanlore/fanlore/internal/audit/service"
	orderdomain "github.com/fanlore/fanlore/internal/order/domain"
	orderrepo "github.com/fanlore/fanlore/internal/order/repository"
	paymentdomain "github.com/fanlore/fanlore/internal/payment/domain"
	paymentrepo "github.com/fanlore/fanlore/internal/payment/repository"
	paymentservice "github.com/fanlore/fanlore/internal/payment/service"
	userdomain "github.com/fanlore/fanlore/internal/user/domain"
	walletdomain "github.com/fanlore/fanlore/internal/wallet/domain"
	walletservice "github.com/fanlore/fanlore/internal/wallet/service"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	// SQLite support hack: drop row locking clauses before SQL is built.
	stripLock := func(d *gorm.DB) {
		delete(d.Statement.Clauses, "FOR UPDATE")
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_no_row_lock", stripLock); err != nil {
		t.Fatalf("register callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&userdomain.User{},
		&orderdomain.Order{},
		&paymentdomain.PaymentRecord{},
		&walletdomain.Wallet{},
		&walletdomain.WalletTransaction{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	reconciler *paymentservice.Reconciler
	walletSvc  walletdomain.Service
	auditSvc   auditdomain.Service
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(10)
	require.NoError(t, err)

	walletSvc := walletservice.NewService(walletservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	reconciler := paymentservice.NewReconciler(paymentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      paymentrepo.Provide(),
		OrderRepo: orderrepo.Provide(),
		WalletSvc: walletSvc,
		AuditSvc:  auditSvc,
	})

	return &fixture{
		db:         db,
		node:       node,
		reconciler: reconciler,
		walletSvc:  walletSvc,
		auditSvc:   auditSvc,
	}
}

func (f *fixture) seedUser(t *testing.T) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	require.NoError(t, f.db.Create(&userdomain.User{
		ID:          id,
		Email:       fmt.Sprintf("user_%s@fanlore.test", id),
		DisplayName: "creator",
		CreatedAt:   now,
	}).Error)
	return id
}

func (f *fixture) seedOrder(t *testing.T, userID snowflake.ID, amount int64) *orderdomain.Order {
	t.Helper()
	now := time.Now().UTC()
	order := &orderdomain.Order{
		ID:        f.node.Generate(),
		Number:    fmt.Sprintf("FL-%s", f.node.Generate().Base36()),
		UserID:    userID,
		Amount:    amount,
		Currency:  "USD",
		Status:    orderdomain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(order).Error)
	return order
}

func notice(txnID, orderNumber string, status paymentdomain.Status, amount int64) *paymentdomain.Notice {
	return &paymentdomain.Notice{
		TxnID:       txnID,
		OrderNumber: orderNumber,
		Status:      status,
		Amount:      amount,
		Currency:    "USD",
		RawPayload:  []byte(fmt.Sprintf(`{"txn_id":%q,"status":%q}`, txnID, status)),
	}
}

func (f *fixture) payment(t *testing.T, txnID string) *paymentdomain.PaymentRecord {
	t.Helper()
	var rec paymentdomain.PaymentRecord
	require.NoError(t, f.db.Where("txn_id = ?", txnID).Limit(1).Find(&rec).Error)
	return &rec
}

func (f *fixture) auditCount(t *testing.T, txnID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).
		Where("target_type = ? AND target_id = ?", "payment", txnID).
		Count(&n).Error)
	return n
}

func TestReconcileFirstSighting(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	userID := f.seedUser(t)
	order := f.seedOrder(t, userID, 1000)

	outcome, err := f.reconciler.Reconcile(ctx, notice("TXN-1", order.Number, paymentdomain.StatusPending, 1000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	rec := f.payment(t, "TXN-1")
	assert.Equal(t, paymentdomain.StatusPending, rec.Status)
	assert.Equal(t, int64(1000), rec.Amount)

	var got orderdomain.Order
	require.NoError(t, f.db.First(&got, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusPending, got.Status)

	balance, err := f.walletSvc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, balance, "pending must not credit the wallet")

	assert.Equal(t, int64(1), f.auditCount(t, "TXN-1"))
}

func TestReconcilePendingToCompleted(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	userID := f.seedUser(t)
	order := f.seedOrder(t, userID, 2599)

	_, err := f.reconciler.Reconcile(ctx, notice("TXN-2", order.Number, paymentdomain.StatusPending, 2599))
	require.NoError(t, err)

	outcome, err := f.reconciler.Reconcile(ctx, notice("TXN-2", order.Number, paymentdomain.StatusCompleted, 2599))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	rec := f.payment(t, "TXN-2")
	assert.Equal(t, paymentdomain.StatusCompleted, rec.Status)

	var got orderdomain.Order
	require.NoError(t, f.db.First(&got, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusCompleted, got.Status)

	balance, err := f.walletSvc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2599), balance)

	assert.Equal(t, int64(2), f.auditCount(t, "TXN-2"))
}

func TestReconcileRedeliveryCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	userID := f.seedUser(t)
	order := f.seedOrder(t, userID, 1000)

	first, err := f.reconciler.Reconcile(ctx, notice("TXN-3", order.Number, paymentdomain.StatusCompleted, 1000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, first)

	for i := 0; i < 4; i++ {
		outcome, err := f.reconciler.Reconcile(ctx, notice("TXN-3", order.Number, paymentdomain.StatusCompleted, 1000))
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)
	}

	balance, err := f.walletSvc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance, "five deliveries, one credit")

	var credits int64
	require.NoError(t, f.db.Model(&walletdomain.WalletTransaction{}).
		Where("reference = ?", "payment:TXN-3").
		Count(&credits).Error)
	assert.Equal(t, int64(1), credits)

	// Duplicates refresh the payload but write no further audit entries.
	assert.Equal(t, int64(1), f.auditCount(t, "TXN-3"))
}

func TestReconcileRefusesRegression(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	userID := f.seedUser(t)
	order := f.seedOrder(t, userID, 1000)

	_, err := f.reconciler.Reconcile(ctx, notice("TXN-4", order.Number, paymentdomain.StatusCompleted, 1000))
	require.NoError(t, err)

	outcome, err := f.reconciler.Reconcile(ctx, notice("TXN-4", order.Number, paymentdomain.StatusPending, 1000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)

	rec := f.payment(t, "TXN-4")
	assert.Equal(t, paymentdomain.StatusCompleted, rec.Status, "terminal status is immutable")

	var got orderdomain.Order
	require.NoError(t, f.db.First(&got, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusCompleted, got.Status)
}

func TestReconcileTerminalStates(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	userID := f.seedUser(t)

	for _, status := range []paymentdomain.Status{
		paymentdomain.StatusExpired,
		paymentdomain.StatusCancelled,
	} {
		order := f.seedOrder(t, userID, 500)
		txnID := "TXN-TERM-" + string(status)

		_, err := f.reconciler.Reconcile(ctx, notice(txnID, order.Number, paymentdomain.StatusPending, 500))
		require.NoError(t, err)
		outcome, err := f.reconciler.Reconcile(ctx, notice(txnID, order.Number, status, 500))
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

		var got orderdomain.Order
		require.NoError(t, f.db.First(&got, "id = ?", order.ID).Error)
		assert.Equal(t, orderdomain.StatusFailed, got.Status)

		outcome, err = f.reconciler.Reconcile(ctx, notice(txnID, order.Number, paymentdomain.StatusCompleted, 500))
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.OutcomeIgnored, outcome, "no resurrection out of %s", status)
	}

	balance, err := f.walletSvc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestReconcileErrorRecovery(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	userID := f.seedUser(t)
	order := f.seedOrder(t, userID, 1500)

	for _, step := range []paymentdomain.Status{
		paymentdomain.StatusPending,
		paymentdomain.StatusError,
		paymentdomain.StatusCompleted,
	} {
		outcome, err := f.reconciler.Reconcile(ctx, notice("TXN-5", order.Number, step, 1500))
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.OutcomeApplied, outcome)
	}

	rec := f.payment(t, "TXN-5")
	assert.Equal(t, paymentdomain.StatusCompleted, rec.Status)

	balance, err := f.walletSvc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)

	assert.Equal(t, int64(3), f.auditCount(t, "TXN-5"))
}

func TestReconcileMismatchResolution(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	userID := f.seedUser(t)
	order := f.seedOrder(t, userID, 800)

	_, err := f.reconciler.Reconcile(ctx, notice("TXN-6", order.Number, paymentdomain.StatusPending, 800))
	require.NoError(t, err)
	_, err = f.reconciler.Reconcile(ctx, notice("TXN-6", order.Number, paymentdomain.StatusMismatch, 800))
	require.NoError(t, err)

	var got orderdomain.Order
	require.NoError(t, f.db.First(&got, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusFailed, got.Status)

	outcome, err := f.reconciler.Reconcile(ctx, notice("TXN-6", order.Number, paymentdomain.StatusCompleted, 800))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	require.NoError(t, f.db.First(&got, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusCompleted, got.Status)

	balance, err := f.walletSvc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), balance)
}

func TestReconcileUnknownOrder(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)

	outcome, err := f.reconciler.Reconcile(ctx, notice("TXN-7", "FL-NOPE", paymentdomain.StatusCompleted, 1000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	rec := f.payment(t, "TXN-7")
	assert.Equal(t, paymentdomain.StatusCompleted, rec.Status, "the payment is recorded even without a matching order")

	var credits int64
	require.NoError(t, f.db.Model(&walletdomain.WalletTransaction{}).Count(&credits).Error)
	assert.Zero(t, credits, "no order means no user to credit")
}

func TestReconcileMissingUserRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setupFixture(t)
	ghost := f.node.Generate()
	order := f.seedOrder(t, ghost, 1000)

	_, err := f.reconciler.Reconcile(ctx, notice("TXN-8", order.Number, paymentdomain.StatusCompleted, 1000))
	require.ErrorIs(t, err, walletdomain.ErrUserNotFound)
	require.ErrorIs(t, err, paymentdomain.ErrOrderUserMissing)
	assert.False(t, paymentdomain.IsRetryable(err), "a missing user does not heal with time")

	rec := f.payment(t, "TXN-8")
	assert.Zero(t, rec.ID, "the whole transaction rolls back")

	var got orderdomain.Order
	require.NoError(t, f.db.First(&got, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusPending, got.Status)

	assert.Zero(t, f.auditCount(t, "TXN-8"))
}

// racingRepo simulates losing the creation race: the first lock misses, the
// insert is refused by the unique key on txn_id, and the re-read under the
// lock sees the winner's row.
type racingRepo struct {
	winner    *paymentdomain.PaymentRecord
	locks     int
	inserts   int
	updates   int
	refreshes int
}

func (r *racingRepo) FindByTxnID(ctx context.Context, db *gorm.DB, txnID string) (*paymentdomain.PaymentRecord, error) {
	return nil, nil
}

func (r *racingRepo) LockByTxnID(ctx context.Context, db *gorm.DB, txnID string) (*paymentdomain.PaymentRecord, error) {
	r.locks++
	if r.locks == 1 {
		return nil, nil
	}
	return r.winner, nil
}

func (r *racingRepo) Insert(ctx context.Context, db *gorm.DB, rec *paymentdomain.PaymentRecord) (bool, error) {
	r.inserts++
	return false, nil
}

func (r *racingRepo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status paymentdomain.Status, raw []byte, now time.Time) error {
	r.updates++
	return nil
}

func (r *racingRepo) RefreshPayload(ctx context.Context, db *gorm.DB, txnID string, raw []byte, now time.Time) error {
	r.refreshes++
	return nil
}

type recordingWallet struct {
	credits int
}

func (w *recordingWallet) Credit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, currency string, kind string, reference string) (bool, error) {
	w.credits++
	return true, nil
}

func (w *recordingWallet) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	return 0, nil
}

func raceFixture(t *testing.T, winner *paymentdomain.PaymentRecord) (*paymentservice.Reconciler, *racingRepo, *recordingWallet) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(11)
	require.NoError(t, err)

	repo := &racingRepo{winner: winner}
	wallet := &recordingWallet{}
	reconciler := paymentservice.NewReconciler(paymentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repo,
		OrderRepo: orderrepo.Provide(),
		WalletSvc: wallet,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Repo:  auditrepo.Provide(),
		}),
	})
	return reconciler, repo, wallet
}

func TestReconcileInsertRaceLoserTakesDuplicatePath(t *testing.T) {
	ctx := context.Background()
	winner := &paymentdomain.PaymentRecord{
		ID:     snowflake.ID(1),
		TxnID:  "TXN-RACE",
		Status: paymentdomain.StatusCompleted,
	}
	reconciler, repo, wallet := raceFixture(t, winner)

	outcome, err := reconciler.Reconcile(ctx, notice("TXN-RACE", "FL-RACE", paymentdomain.StatusCompleted, 1000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)

	assert.Equal(t, 2, repo.locks, "loser re-reads after the refused insert")
	assert.Equal(t, 1, repo.inserts)
	assert.Equal(t, 1, repo.refreshes, "duplicate only refreshes the raw payload")
	assert.Zero(t, repo.updates)
	assert.Zero(t, wallet.credits, "the winner already settled the ledger")
}

func TestReconcileInsertRaceLoserRespectsGuard(t *testing.T) {
	ctx := context.Background()
	winner := &paymentdomain.PaymentRecord{
		ID:     snowflake.ID(2),
		TxnID:  "TXN-RACE-2",
		Status: paymentdomain.StatusCompleted,
	}
	reconciler, repo, wallet := raceFixture(t, winner)

	outcome, err := reconciler.Reconcile(ctx, notice("TXN-RACE-2", "FL-RACE-2", paymentdomain.StatusPending, 1000))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)

	assert.Equal(t, 2, repo.locks)
	assert.Zero(t, repo.updates, "a stale status never lands after the race")
	assert.Zero(t, repo.refreshes)
	assert.Zero(t, wallet.credits)
}
