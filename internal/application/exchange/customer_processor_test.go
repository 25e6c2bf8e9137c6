package exchange_test

import (
	"context"
	"testing"

	appexchange "github.com/erp/exchange/internal/application/exchange"
	"github.com/erp/exchange/internal/domain/exchange"
	"github.com/erp/exchange/internal/infrastructure/commerceml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contragentsDoc(body string) string {
	return document(`<Контрагенты>` + body + `</Контрагенты>`)
}

func contragent(id, name, email, phone string) string {
	return `<Контрагент><Ид>` + id + `</Ид><ПолноеНаименование>` + name + `</ПолноеНаименование><Контакты>
<Контакт><Тип>Телефон рабочий</Тип><Значение>` + phone + `</Значение></Контакт>
<Контакт><Тип>Почта</Тип><Значение>` + email + `</Значение></Контакт>
</Контакты></Контрагент>`
}

func (e *env) runCustomers(t *testing.T, dir string) exchange.ImportStats {
	t.Helper()
	p := appexchange.NewCustomerProcessor(commerceml.NewParser(), e.scope, 2, e.logger)
	phases, err := p.Phases(context.Background(), appexchange.Run{ImportType: exchange.ImportTypeCustomers, DataDir: dir})
	require.NoError(t, err)
	require.Len(t, phases, 1)
	stats, err := phases[0].Run(context.Background(), appexchange.Run{ImportType: exchange.ImportTypeCustomers, DataDir: dir})
	require.NoError(t, err)
	return stats
}

func TestCustomerProcessor_CreatesAndLinksAccounts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	existing := e.account(t, "ivan", "ivan@example.com", "")

	dir := customersDir(t, e.root)
	writeFeed(t, dir, "contragents/contragents.xml", contragentsDoc(
		contragent("c-1", "Иванов Иван", "Ivan@Example.com", "+7 900 000")+
			contragent("c-2", "Петров Пётр", "petr@example.com", "+7 900 001")+
			contragent("c-3", "Сидоров", "", ""),
	))

	stats := e.runCustomers(t, dir)
	assert.Equal(t, 2, stats.Get(exchange.StatCreated))
	assert.Equal(t, 1, stats.Get(exchange.StatUpdated))

	linked, err := e.repos.Accounts().FindByExternalID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, linked.ID, "matched by email")
	assert.Equal(t, "ivan", linked.Username)
	assert.Equal(t, "Иванов Иван", linked.FullName)
	assert.Equal(t, "+7 900 000", linked.Phone)

	created, err := e.repos.Accounts().FindByExternalID(ctx, "c-2")
	require.NoError(t, err)
	assert.Equal(t, "1c-c-2", created.Username)
	assert.Equal(t, "petr@example.com", created.Email)
	assert.False(t, created.VerifyPassword(""), "imported accounts cannot log in")

	bare, err := e.repos.Accounts().FindByExternalID(ctx, "c-3")
	require.NoError(t, err)
	assert.Empty(t, bare.Email)
}

func TestCustomerProcessor_RerunUpdatesByExternalID(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	dir := customersDir(t, e.root)
	writeFeed(t, dir, "contragents/contragents.xml", contragentsDoc(contragent("c-1", "Иванов", "ivan@example.com", "1")))
	e.runCustomers(t, dir)

	writeFeed(t, dir, "contragents/contragents.xml", contragentsDoc(contragent("c-1", "Иванов Иван", "ivan@example.com", "")))
	stats := e.runCustomers(t, dir)
	assert.Equal(t, 0, stats.Get(exchange.StatCreated))
	assert.Equal(t, 1, stats.Get(exchange.StatUpdated))

	account, err := e.repos.Accounts().FindByExternalID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Иванов Иван", account.FullName)
	assert.Equal(t, "1", account.Phone, "blank phone keeps the stored one")
}

func TestCustomerProcessor_RejectsOtherTypes(t *testing.T) {
	e := newEnv(t)
	p := appexchange.NewCustomerProcessor(commerceml.NewParser(), e.scope, 2, e.logger)
	_, err := p.Phases(context.Background(), appexchange.Run{ImportType: exchange.ImportTypeCatalog})
	assert.Error(t, err)
}
