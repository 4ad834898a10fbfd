package workflow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/ledger_backend/config"
	"bitbucket.org/mmdatafocus/ledger_backend/models"
	"bitbucket.org/mmdatafocus/ledger_backend/utils"
	"bitbucket.org/mmdatafocus/ledger_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Full posting lifecycle against real MySQL + Redis: draft -> post (with
// idempotent replay) -> conflict on re-post -> lock-date rejection -> void
// with stock restoration.
func TestPostingLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ledger_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	logger := config.GetLogger()

	org, err := models.CreateOrganization(ctx, &models.NewOrganization{
		Name:         "Integration Org",
		BaseCurrency: "USD",
		Timezone:     "UTC",
		VatEnabled:   true,
	})
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	ctx = utils.SetOrganizationIdInContext(ctx, org.ID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")

	newAccount := func(name, mainType string) int {
		t.Helper()
		a, err := models.CreateAccount(ctx, org.ID, &models.NewAccount{Name: name, MainType: mainType})
		if err != nil {
			t.Fatalf("create account %s: %v", name, err)
		}
		return a.ID
	}
	ar := newAccount("Accounts Receivable", "Asset")
	ap := newAccount("Accounts Payable", "Liability")
	bank := newAccount("Bank", "Asset")
	inventory := newAccount("Inventory", "Asset")
	vat := newAccount("VAT Control", "Liability")
	sales := newAccount("Sales", "Income")
	purchases := newAccount("Purchases", "Expense")
	cogs := newAccount("COGS", "Expense")

	item, err := models.CreateItem(ctx, org.ID, &models.NewItem{
		Name:               "Widget",
		IsStockTracked:     true,
		StandardCost:       decimal.NewFromInt(7),
		InventoryAccountId: inventory,
		CogsAccountId:      cogs,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	postDoc := func(docId int, idemKey string, payload []byte, opts *workflow.PostDocumentOptions) (*workflow.PostDocumentResult, []byte, error) {
		var result *workflow.PostDocumentResult
		var replayed []byte
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := workflow.AcquireOrgPostingLock(tx, org.ID); err != nil {
				return err
			}
			defer workflow.ReleaseOrgPostingLock(tx, org.ID)

			var record *models.IdempotencyRecord
			if idemKey != "" {
				var rerr error
				record, replayed, rerr = workflow.BeginIdempotent(tx, org.ID,
					fmt.Sprintf("documents/%d/post", docId), idemKey, payload)
				if rerr != nil {
					return rerr
				}
				if record == nil {
					return nil
				}
			}
			r, err := workflow.PostDocument(ctx, tx, logger, org.ID, docId, opts)
			if err != nil {
				return err
			}
			result = r
			response, err := json.Marshal(r)
			if err != nil {
				return err
			}
			return workflow.CompleteIdempotent(tx, record, response)
		})
		return result, replayed, err
	}

	yesterday := time.Now().AddDate(0, 0, -1)

	// Stock in 10 widgets via a bill so the invoice has inventory to consume.
	bill, err := models.CreateDraftDocument(ctx, org.ID, &models.NewDocument{
		Type:            string(models.DocumentTypeBill),
		EffectiveDate:   yesterday,
		Currency:        "USD",
		ContraAccountId: ap,
		TaxAccountId:    vat,
		Items: []models.NewDocumentItem{
			{Description: "Widgets in", AccountId: purchases, ItemId: item.ID,
				Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(7)},
		},
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, _, err := postDoc(bill.ID, "", nil, nil); err != nil {
		t.Fatalf("post bill: %v", err)
	}

	invoice, err := models.CreateDraftDocument(ctx, org.ID, &models.NewDocument{
		Type:            string(models.DocumentTypeInvoice),
		EffectiveDate:   yesterday,
		Currency:        "USD",
		ContraAccountId: ar,
		TaxAccountId:    vat,
		TaxRate:         decimal.NewFromInt(10),
		Items: []models.NewDocumentItem{
			{Description: "Widgets out", AccountId: sales, ItemId: item.ID,
				Quantity: decimal.NewFromInt(4), UnitPrice: decimal.NewFromInt(25)},
		},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	payload := []byte(`{"source":"test"}`)
	first, replayed, err := postDoc(invoice.ID, "key-1", payload, nil)
	if err != nil {
		t.Fatalf("post invoice: %v", err)
	}
	if first == nil || replayed != nil {
		t.Fatal("first post should execute, not replay")
	}
	if first.Document.Status != models.DocumentStatusPosted {
		t.Fatalf("status = %s, want Posted", first.Document.Status)
	}
	if got := utils.DereferencePtr(first.Document.DocumentNumber); got != "INV-0001" {
		t.Fatalf("document number = %s, want INV-0001", got)
	}
	if !first.Journal.TotalDebit.Equal(first.Journal.TotalCredit) {
		t.Fatalf("journal unbalanced: %s vs %s", first.Journal.TotalDebit, first.Journal.TotalCredit)
	}
	if !first.Document.Total.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("total = %s, want 110 (100 + 10%% VAT)", first.Document.Total)
	}

	// Same key + payload replays the stored response without re-posting.
	second, replayed, err := postDoc(invoice.ID, "key-1", payload, nil)
	if err != nil {
		t.Fatalf("replay post: %v", err)
	}
	if second != nil || replayed == nil {
		t.Fatal("duplicate key should replay, not execute")
	}

	// Same key, different payload: CONFLICT.
	if _, _, err := postDoc(invoice.ID, "key-1", []byte(`{"source":"other"}`), nil); utils.KindOf(err) != utils.ErrorKindConflict {
		t.Fatalf("payload mismatch: kind = %v, want CONFLICT", utils.KindOf(err))
	}

	// Re-post without a key: CONFLICT (already posted).
	if _, _, err := postDoc(invoice.ID, "", nil, nil); utils.KindOf(err) != utils.ErrorKindConflict {
		t.Fatalf("re-post: kind = %v, want CONFLICT", utils.KindOf(err))
	}

	onHand, err := models.OnHandQuantity(db.WithContext(ctx), org.ID, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !onHand.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("on hand = %s, want 6", onHand)
	}

	// Reconcile the invoice's journal against a statement line in two
	// allocations: a partial match leaves the line open, over-allocation is
	// rejected, and the exact remainder flips the matched flag.
	session, err := models.CreateReconciliationSession(ctx, org.ID, &models.NewReconciliationSession{
		BankAccountId:  bank,
		PeriodStart:    yesterday.AddDate(0, 0, -30),
		PeriodEnd:      time.Now(),
		ClosingBalance: decimal.NewFromInt(110),
		Reference:      "2026-08 statement",
		Transactions: []models.NewBankTransaction{
			{TransactionDate: yesterday, Description: "Deposit", Amount: decimal.NewFromInt(110)},
		},
	})
	if err != nil {
		t.Fatalf("create reconciliation session: %v", err)
	}
	stmtLine := session.Transactions[0]

	match := func(sessionId int, amount decimal.Decimal) (*workflow.MatchBankTransactionResult, error) {
		var result *workflow.MatchBankTransactionResult
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			r, err := workflow.MatchBankTransaction(tx, logger, org.ID, &workflow.MatchBankTransactionInput{
				SessionId:         sessionId,
				BankTransactionId: stmtLine.ID,
				JournalId:         *first.Document.JournalId,
				Amount:            amount,
			})
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		return result, err
	}

	if _, err := match(session.ID+1, decimal.NewFromInt(1)); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("wrong session: kind = %v, want VALIDATION", utils.KindOf(err))
	}

	partial, err := match(session.ID, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("partial match: %v", err)
	}
	if !partial.Remaining.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("remaining = %s, want 70", partial.Remaining)
	}
	if partial.BankTransaction.IsMatched {
		t.Fatal("line flagged matched while 70 is still unallocated")
	}

	if _, err := match(session.ID, decimal.NewFromInt(80)); utils.KindOf(err) != utils.ErrorKindConflict {
		t.Fatalf("over-allocation: kind = %v, want CONFLICT", utils.KindOf(err))
	}

	full, err := match(session.ID, decimal.NewFromInt(70))
	if err != nil {
		t.Fatalf("final match: %v", err)
	}
	if !full.Remaining.IsZero() {
		t.Fatalf("remaining = %s, want 0", full.Remaining)
	}
	if !full.BankTransaction.IsMatched {
		t.Fatal("line not flagged matched at zero remaining")
	}

	// Lock the period; posting into it must fail.
	lockDate := time.Now()
	if _, err := models.UpdateOrganizationSettings(ctx, org.ID, &models.NewOrganizationSettings{
		LockDate: &lockDate,
	}); err != nil {
		t.Fatalf("set lock date: %v", err)
	}
	locked, err := models.CreateDraftDocument(ctx, org.ID, &models.NewDocument{
		Type:            string(models.DocumentTypeInvoice),
		EffectiveDate:   yesterday,
		Currency:        "USD",
		ContraAccountId: ar,
		Items: []models.NewDocumentItem{
			{Description: "Late", AccountId: sales, Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		t.Fatalf("create locked-period draft: %v", err)
	}
	if _, _, err := postDoc(locked.ID, "", nil, nil); utils.KindOf(err) != utils.ErrorKindLockDate {
		t.Fatalf("locked period: kind = %v, want LOCK_DATE_VIOLATION", utils.KindOf(err))
	}

	// Move the lock date far back and void the invoice: mirror journal,
	// stock restored.
	farPast := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := models.UpdateOrganizationSettings(ctx, org.ID, &models.NewOrganizationSettings{
		LockDate: &farPast,
	}); err != nil {
		t.Fatalf("clear lock date: %v", err)
	}
	var voidResult *workflow.VoidDocumentResult
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := workflow.VoidDocument(ctx, tx, logger, org.ID, invoice.ID, "test void")
		if err != nil {
			return err
		}
		voidResult = r
		return nil
	})
	if err != nil {
		t.Fatalf("void invoice: %v", err)
	}
	if voidResult.Document.Status != models.DocumentStatusVoid {
		t.Fatalf("status = %s, want Void", voidResult.Document.Status)
	}
	if voidResult.ReversalJournal == nil || !voidResult.ReversalJournal.IsReversal {
		t.Fatal("missing reversal journal")
	}

	original, err := models.GetJournal(ctx, org.ID, *first.Document.JournalId)
	if err != nil {
		t.Fatal(err)
	}
	if original.Status != models.JournalStatusReversed {
		t.Fatalf("original journal status = %s, want REVERSED", original.Status)
	}
	if utils.DereferencePtr(original.ReversedByJournalId) != voidResult.ReversalJournal.ID {
		t.Fatal("reversed_by_journal_id not linked")
	}

	onHand, err = models.OnHandQuantity(db.WithContext(ctx), org.ID, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !onHand.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("on hand after void = %s, want 10", onHand)
	}

	// Negative-stock decision table: BLOCK rejects an oversell, an override
	// reason posts it anyway (warned and audited), WARN posts it with a
	// warning and no override.
	oversellDraft := func() int {
		t.Helper()
		d, err := models.CreateDraftDocument(ctx, org.ID, &models.NewDocument{
			Type:            string(models.DocumentTypeInvoice),
			EffectiveDate:   yesterday,
			Currency:        "USD",
			ContraAccountId: ar,
			Items: []models.NewDocumentItem{
				{Description: "Oversell", AccountId: sales, ItemId: item.ID,
					Quantity: decimal.NewFromInt(50), UnitPrice: decimal.NewFromInt(25)},
			},
		})
		if err != nil {
			t.Fatalf("create oversell draft: %v", err)
		}
		return d.ID
	}

	blockedId := oversellDraft()
	_, _, err = postDoc(blockedId, "", nil, nil)
	if utils.KindOf(err) != utils.ErrorKindNegativeStock {
		t.Fatalf("oversell under BLOCK: kind = %v, want NEGATIVE_STOCK", utils.KindOf(err))
	}

	reason := "warehouse count confirmed by manager"
	overridden, _, err := postDoc(blockedId, "", nil, &workflow.PostDocumentOptions{OverrideReason: &reason})
	if err != nil {
		t.Fatalf("override post: %v", err)
	}
	if len(overridden.Warnings) != 1 || overridden.Warnings[0].ItemId != item.ID {
		t.Fatalf("override warnings = %+v, want one for the widget", overridden.Warnings)
	}
	trail, err := models.ListAuditLogs(ctx, org.ID, models.DocumentTypeInvoice, blockedId)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	var audited bool
	for _, entry := range trail {
		if entry.Action == models.AuditActionPost && utils.DereferencePtr(entry.OverrideReason) == reason {
			audited = true
		}
	}
	if !audited {
		t.Fatal("override reason missing from the audit trail")
	}

	warnPolicy := string(models.NegativeStockPolicyWarn)
	if _, err := models.UpdateOrganizationSettings(ctx, org.ID, &models.NewOrganizationSettings{
		NegativeStockPolicy: &warnPolicy,
	}); err != nil {
		t.Fatalf("set WARN policy: %v", err)
	}
	warned, _, err := postDoc(oversellDraft(), "", nil, nil)
	if err != nil {
		t.Fatalf("oversell under WARN: %v", err)
	}
	if len(warned.Warnings) != 1 || warned.Warnings[0].ItemId != item.ID {
		t.Fatalf("WARN warnings = %+v, want one for the widget", warned.Warnings)
	}

	// Two drafts posted concurrently must draw distinct numbers from the
	// series.
	expenseDraft := func() int {
		t.Helper()
		d, err := models.CreateDraftDocument(ctx, org.ID, &models.NewDocument{
			Type:            string(models.DocumentTypeExpense),
			EffectiveDate:   yesterday,
			Currency:        "USD",
			ContraAccountId: bank,
			Items: []models.NewDocumentItem{
				{Description: "Rent", AccountId: purchases,
					Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(30)},
			},
		})
		if err != nil {
			t.Fatalf("create expense draft: %v", err)
		}
		return d.ID
	}

	numberCh := make(chan string, 2)
	errCh := make(chan error, 2)
	for _, docId := range []int{expenseDraft(), expenseDraft()} {
		go func(docId int) {
			r, _, err := postDoc(docId, "", nil, nil)
			if err != nil {
				errCh <- err
				return
			}
			numberCh <- utils.DereferencePtr(r.Document.DocumentNumber)
		}(docId)
	}
	numbers := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			t.Fatalf("concurrent post: %v", err)
		case n := <-numberCh:
			numbers = append(numbers, n)
		case <-time.After(60 * time.Second):
			t.Fatal("concurrent posts did not finish")
		}
	}
	if numbers[0] == numbers[1] {
		t.Fatalf("concurrent posts both drew %s", numbers[0])
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ledger_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
