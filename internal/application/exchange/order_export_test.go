package exchange_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/identity"
	"github.com/erp/exchange/internal/domain/shared"
	"github.com/erp/exchange/internal/domain/trade"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	sku      string
	quantity string
	price    string
}

func (e *env) account(t *testing.T, username, email string, externalID string) *identity.Account {
	t.Helper()
	a := &identity.Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Username:          username,
		IsActive:          true,
		Permissions:       []string{},
	}
	require.NoError(t, a.SetEmail(email))
	a.LinkExternalID(externalID)
	require.NoError(t, e.repos.Accounts().Save(context.Background(), a))
	return a
}

func (e *env) order(t *testing.T, number string, accountID *uuid.UUID, items ...item) *trade.Order {
	t.Helper()
	o, err := trade.NewOrder(number, accountID, "RUB")
	require.NoError(t, err)
	for _, it := range items {
		require.NoError(t, o.AddItem(nil, it.sku, "item "+it.sku, decimal.RequireFromString(it.quantity), decimal.RequireFromString(it.price)))
	}
	require.NoError(t, e.repos.Orders().Save(context.Background(), o))
	return o
}

func (e *env) exporter() *appexchange.OrderExporter {
	return appexchange.NewOrderExporter(e.repos.Orders(), e.repos.Accounts(), 2, "pepper", e.logger)
}

func TestOrderExporter_Export(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	linked := e.account(t, "linked", "linked@example.com", "ctr-1")
	plain := e.account(t, "plain", "Plain@Example.com", "")
	missing := uuid.New()

	o1 := e.order(t, "1001", &linked.ID, item{"sku-1", "2", "100"}, item{"", "1", "5"})
	o2 := e.order(t, "1002", &plain.ID, item{"sku-2", "1", "50.5"})
	e.order(t, "1003", &plain.ID)
	e.order(t, "1004", nil, item{"sku-1", "1", "1"})
	e.order(t, "1005", &missing, item{"sku-1", "1", "1"})
	e.order(t, "1006", &linked.ID, item{"", "1", "1"})

	var buf bytes.Buffer
	result, err := e.exporter().Export(ctx, &buf)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{o1.ID, o2.ID}, result.OrderIDs)
	assert.Equal(t, 4, result.Skipped)

	body := buf.String()
	assert.Contains(t, body, "<Ид>ctr-1</Ид>")
	assert.Contains(t, body, "sku-2")
	assert.Contains(t, body, "<Сумма>200.00</Сумма>")
	assert.NotContains(t, body, "205.00", "skipped lines are not part of the document total")

	// the export document reads back as an orders document
	path := filepath.Join(t.TempDir(), "orders.xml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	var ids []string
	_, err = commerceml.NewParser().ParseOrders(ctx, path, func(u commerceml.OrderUpdate) error {
		ids = append(ids, u.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{o1.ID.String(), o2.ID.String()}, ids)
}

func TestOrderExporter_IsDeterministicUntilAcknowledged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	buyer := e.account(t, "buyer", "buyer@example.com", "")
	for _, number := range []string{"1", "2", "3", "4", "5"} {
		e.order(t, number, &buyer.ID, item{"sku-" + number, "1", "10"})
	}

	first, err := e.exporter().Export(ctx, &bytes.Buffer{})
	require.NoError(t, err)
	second, err := e.exporter().Export(ctx, &bytes.Buffer{})
	require.NoError(t, err)
	require.Len(t, first.OrderIDs, 5, "pages are walked to the end")
	assert.Equal(t, first.OrderIDs, second.OrderIDs)

	require.NoError(t, e.repos.Orders().MarkExported(ctx, first.OrderIDs[:3], time.Now()))
	third, err := e.exporter().Export(ctx, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, first.OrderIDs[3:], third.OrderIDs)
}

func TestOrderExporter_CounterpartyID(t *testing.T) {
	e := newEnv(t)
	exporter := e.exporter()

	ext := "ctr-9"
	assert.Equal(t, "ctr-9", exporter.CounterpartyID(&identity.Account{ExternalID: &ext, Email: "x@example.com"}))

	sum := sha256.Sum256([]byte("pepper" + "mixed@example.com"))
	want := "email-" + hex.EncodeToString(sum[:])[:32]
	assert.Equal(t, want, exporter.CounterpartyID(&identity.Account{Email: "Mixed@Example.com"}))

	id := uuid.New()
	a := &identity.Account{}
	a.ID = id
	assert.Equal(t, "user-"+id.String(), exporter.CounterpartyID(a))
}
