package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
)

// field связывает имя поля с его слотом в Fields и в Effective.
type field struct {
	name string
	in   func(*Fields) **decimal.Decimal
	out  func(*Effective) *decimal.Decimal
}

var fieldTable = []field{
	{"min_deposit", func(f *Fields) **decimal.Decimal { return &f.MinDeposit }, func(e *Effective) *decimal.Decimal { return &e.MinDeposit }},
	{"max_deposit", func(f *Fields) **decimal.Decimal { return &f.MaxDeposit }, func(e *Effective) *decimal.Decimal { return &e.MaxDeposit }},
	{"min_withdrawal", func(f *Fields) **decimal.Decimal { return &f.MinWithdrawal }, func(e *Effective) *decimal.Decimal { return &e.MinWithdrawal }},
	{"max_withdrawal", func(f *Fields) **decimal.Decimal { return &f.MaxWithdrawal }, func(e *Effective) *decimal.Decimal { return &e.MaxWithdrawal }},
	{"deposit_bonus_pct", func(f *Fields) **decimal.Decimal { return &f.DepositBonusPct }, func(e *Effective) *decimal.Decimal { return &e.DepositBonusPct }},
	{"min_cashout_multiplier", func(f *Fields) **decimal.Decimal { return &f.MinCashoutMultiplier }, func(e *Effective) *decimal.Decimal { return &e.MinCashoutMultiplier }},
	{"max_cashout_multiplier", func(f *Fields) **decimal.Decimal { return &f.MaxCashoutMultiplier }, func(e *Effective) *decimal.Decimal { return &e.MaxCashoutMultiplier }},
	{"deposit_block_balance", func(f *Fields) **decimal.Decimal { return &f.DepositBlockBalance }, func(e *Effective) *decimal.Decimal { return &e.DepositBlockBalance }},
}

// FieldNames возвращает имена всех полей правила в порядке объявления.
func FieldNames() []string {
	names := make([]string, len(fieldTable))
	for i, f := range fieldTable {
		names[i] = f.name
	}
	return names
}

// Get возвращает значение поля по имени (nil: не задано или поля нет).
func (f *Fields) Get(name string) *decimal.Decimal {
	for _, fd := range fieldTable {
		if fd.name == name {
			return *fd.in(f)
		}
	}
	return nil
}

// Set задаёт поле по имени. false, такого поля нет.
func (f *Fields) Set(name string, v *decimal.Decimal) bool {
	for _, fd := range fieldTable {
		if fd.name == name {
			*fd.in(f) = v
			return true
		}
	}
	return false
}

// Merge собирает эффективное правило: CLIENT > GAME > GLOBAL, независимо по каждому полю.
// Если в GLOBAL не хватает хотя бы одного поля, ErrConfiguration,
// даже если поле переопределено ниже.
func Merge(l Layers) (Effective, error) {
	if l.Global == nil {
		return Effective{}, fmt.Errorf("%w: глобальное правило отсутствует", common.ErrConfiguration)
	}
	if missing := missingFields(l.Global); len(missing) > 0 {
		return Effective{}, fmt.Errorf("%w: в глобальном правиле не заданы %s",
			common.ErrConfiguration, strings.Join(missing, ", "))
	}

	eff := Effective{Source: make(map[string]Scope, len(fieldTable))}
	for _, f := range fieldTable {
		v, src := *f.in(l.Global), ScopeGlobal
		if l.Game != nil && *f.in(l.Game) != nil {
			v, src = *f.in(l.Game), ScopeGame
		}
		if l.Client != nil && *f.in(l.Client) != nil {
			v, src = *f.in(l.Client), ScopeClient
		}
		*f.out(&eff) = *v
		eff.Source[f.name] = src
	}
	return eff, nil
}

func missingFields(f *Fields) []string {
	var missing []string
	for _, fd := range fieldTable {
		if *fd.in(f) == nil {
			missing = append(missing, fd.name)
		}
	}
	return missing
}

// LayerLoader отдаёт три уровня правил для пары (клиент, игра).
// Неизвестный клиент или игра, ErrNotFound. gameID может быть пустым.
type LayerLoader interface {
	LoadLayers(ctx context.Context, userID, gameID string) (Layers, error)
}

// Resolve читает уровни и сливает их. Побочных эффектов нет.
func Resolve(ctx context.Context, src LayerLoader, userID, gameID string) (Effective, error) {
	if strings.TrimSpace(userID) == "" {
		return Effective{}, fmt.Errorf("%w: пустой user_id", common.ErrInvalidRequest)
	}
	layers, err := src.LoadLayers(ctx, userID, gameID)
	if err != nil {
		return Effective{}, err
	}
	return Merge(layers)
}
