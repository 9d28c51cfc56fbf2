package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/features/rules"
)

// Memory: хранилище в памяти процесса (STORAGE_DRIVER=memory и тесты).
// Блокировки строк: по ключу, с таймаутом; изменения транзакции
// копятся отдельно и применяются целиком при коммите.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]ledger.Account
	orders   map[string]orders.Order
	entries  []ledger.Entry
	actions  map[string][]orders.ApprovalAction
	rules    map[ruleKey]rules.Rule
	games    map[string]rules.Game
	actors   map[string]actors.Actor

	seq         atomic.Int64
	locks       *keyedLocks
	lockTimeout time.Duration
}

type ruleKey struct {
	scope rules.Scope
	id    string
}

// NewMemory создаёт пустое хранилище.
func NewMemory(lockTimeout time.Duration) *Memory {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Memory{
		accounts:    make(map[string]ledger.Account),
		orders:      make(map[string]orders.Order),
		actions:     make(map[string][]orders.ApprovalAction),
		rules:       make(map[ruleKey]rules.Rule),
		games:       make(map[string]rules.Game),
		actors:      make(map[string]actors.Actor),
		locks:       &keyedLocks{m: make(map[string]chan struct{})},
		lockTimeout: lockTimeout,
	}
}

// --- Блокировки по ключу ---

type keyedLocks struct {
	mu sync.Mutex
	m  map[string]chan struct{}
}

func (k *keyedLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	k.mu.Lock()
	ch, ok := k.m[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.m[key] = ch
	}
	k.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", common.ErrLockTimeout, key)
	case <-ctx.Done():
		return fmt.Errorf("ожидание блокировки %s: %w", key, ctx.Err())
	}
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	ch := k.m[key]
	k.mu.Unlock()
	<-ch
}

// --- Транзакции ---

// InTx выполняет fn в транзакции. Паника внутри fn откатывает изменения.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		m:        m,
		held:     make(map[string]bool),
		accounts: make(map[string]*ledger.Account),
		dirtyAcc: make(map[string]bool),
		orders:   make(map[string]*orders.Order),
		dirtyOrd: make(map[string]bool),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *Memory) commit(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range tx.dirtyAcc {
		m.accounts[id] = *tx.accounts[id]
	}
	for id := range tx.dirtyOrd {
		m.orders[id] = *tx.orders[id]
	}
	m.entries = append(m.entries, tx.entries...)
	for _, a := range tx.actions {
		m.actions[a.OrderID] = append(m.actions[a.OrderID], a)
	}
}

type memTx struct {
	m    *Memory
	held map[string]bool

	accounts map[string]*ledger.Account
	dirtyAcc map[string]bool
	orders   map[string]*orders.Order
	dirtyOrd map[string]bool
	entries  []ledger.Entry
	actions  []orders.ApprovalAction
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if tx.held[key] {
		return nil
	}
	if err := tx.m.locks.acquire(ctx, key, tx.m.lockTimeout); err != nil {
		return err
	}
	tx.held[key] = true
	return nil
}

func (tx *memTx) release() {
	for key := range tx.held {
		tx.m.locks.release(key)
	}
	tx.held = nil
}

func accountKey(id string) string { return "account:" + id }
func orderKey(id string) string   { return "order:" + id }

func (tx *memTx) LockAccount(ctx context.Context, accountID string) (*ledger.Account, error) {
	if a, ok := tx.accounts[accountID]; ok {
		cp := *a
		return &cp, nil
	}
	if _, err := tx.m.Account(ctx, accountID); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, accountKey(accountID)); err != nil {
		return nil, err
	}
	// перечитываем уже под блокировкой
	a, err := tx.m.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	tx.accounts[accountID] = a
	cp := *a
	return &cp, nil
}

func (tx *memTx) SaveAccount(_ context.Context, account *ledger.Account) error {
	if !tx.held[accountKey(account.ID)] {
		return fmt.Errorf("счёт %s не заблокирован в транзакции", account.ID)
	}
	cp := *account
	tx.accounts[account.ID] = &cp
	tx.dirtyAcc[account.ID] = true
	return nil
}

func (tx *memTx) AppendEntry(_ context.Context, entry *ledger.Entry) error {
	tx.entries = append(tx.entries, *entry)
	return nil
}

func (tx *memTx) LoadLayers(ctx context.Context, userID, gameID string) (rules.Layers, error) {
	return tx.m.LoadLayers(ctx, userID, gameID)
}

func (tx *memTx) LockOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	if o, ok := tx.orders[orderID]; ok {
		cp := *o
		return &cp, nil
	}
	if _, err := tx.m.Order(ctx, orderID); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, orderKey(orderID)); err != nil {
		return nil, err
	}
	o, err := tx.m.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	tx.orders[orderID] = o
	cp := *o
	return &cp, nil
}

func (tx *memTx) InsertOrder(ctx context.Context, order *orders.Order) error {
	if _, ok := tx.orders[order.ID]; ok {
		return fmt.Errorf("%w: заказ %s уже существует", common.ErrInvalidRequest, order.ID)
	}
	if _, err := tx.m.Order(ctx, order.ID); err == nil {
		return fmt.Errorf("%w: заказ %s уже существует", common.ErrInvalidRequest, order.ID)
	}
	if err := tx.lock(ctx, orderKey(order.ID)); err != nil {
		return err
	}
	cp := *order
	tx.orders[order.ID] = &cp
	tx.dirtyOrd[order.ID] = true
	return nil
}

func (tx *memTx) SaveOrder(_ context.Context, order *orders.Order) error {
	if !tx.held[orderKey(order.ID)] {
		return fmt.Errorf("заказ %s не заблокирован в транзакции", order.ID)
	}
	cp := *order
	tx.orders[order.ID] = &cp
	tx.dirtyOrd[order.ID] = true
	return nil
}

func (tx *memTx) RecordAction(_ context.Context, action *orders.ApprovalAction) error {
	tx.actions = append(tx.actions, *action)
	return nil
}

func (tx *memTx) LastAction(ctx context.Context, orderID string) (*orders.ApprovalAction, error) {
	for i := len(tx.actions) - 1; i >= 0; i-- {
		if tx.actions[i].OrderID == orderID {
			a := tx.actions[i]
			return &a, nil
		}
	}
	list, err := tx.m.Actions(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: решений по заказу %s нет", common.ErrNotFound, orderID)
	}
	a := list[len(list)-1]
	return &a, nil
}

func (tx *memTx) NextToken(context.Context) (int64, error) {
	return tx.m.seq.Add(1), nil
}

func (tx *memTx) Actor(ctx context.Context, actorID string) (*actors.Actor, error) {
	return tx.m.Actor(ctx, actorID)
}

func (tx *memTx) PendingWalletLoads(_ context.Context, userID string) (int, error) {
	n := 0
	seen := make(map[string]bool)
	for id, o := range tx.orders {
		seen[id] = true
		if o.UserID == userID && o.Kind == orders.KindWalletLoad && !o.Status.Terminal() {
			n++
		}
	}

	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	for id, o := range tx.m.orders {
		if seen[id] {
			continue
		}
		if o.UserID == userID && o.Kind == orders.KindWalletLoad && !o.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) ProofHashUsed(_ context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	for _, o := range tx.orders {
		if o.ProofHash == hash && o.Status != orders.StatusRejected {
			return true, nil
		}
	}

	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	for _, o := range tx.m.orders {
		if o.ProofHash == hash && o.Status != orders.StatusRejected {
			return true, nil
		}
	}
	return false, nil
}

// --- Чтение зафиксированных данных ---

func (m *Memory) Account(_ context.Context, accountID string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: счёт %s", common.ErrNotFound, accountID)
	}
	return &a, nil
}

func (m *Memory) Entries(_ context.Context, accountID string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Statement(_ context.Context, accountID string) (*ledger.Account, []ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: счёт %s", common.ErrNotFound, accountID)
	}
	var out []ledger.Entry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return &a, out, nil
}

func (m *Memory) AccountIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) CreateAccount(_ context.Context, account *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.ID]; ok {
		return fmt.Errorf("%w: счёт %s уже существует", common.ErrInvalidRequest, account.ID)
	}
	if !account.Total().IsZero() {
		return fmt.Errorf("%w: счёт создаётся с нулевым балансом", common.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	a := *account
	a.CreatedAt, a.UpdatedAt = now, now
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) Order(_ context.Context, orderID string) (*orders.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: заказ %s", common.ErrNotFound, orderID)
	}
	return &o, nil
}

func (m *Memory) ListOrders(_ context.Context, f OrderFilter) ([]*orders.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*orders.Order
	for _, o := range m.orders {
		if (f.UserID != "" && o.UserID != f.UserID) ||
			(f.Kind != "" && o.Kind != f.Kind) ||
			(f.Status != "" && o.Status != f.Status) {
			continue
		}
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Actions(_ context.Context, orderID string) ([]orders.ApprovalAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]orders.ApprovalAction(nil), m.actions[orderID]...), nil
}

// --- Правила ---

func (m *Memory) LoadLayers(_ context.Context, userID, gameID string) (rules.Layers, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[userID]; !ok {
		return rules.Layers{}, fmt.Errorf("%w: клиент %s", common.ErrNotFound, userID)
	}
	if gameID != "" {
		if _, ok := m.games[gameID]; !ok {
			return rules.Layers{}, fmt.Errorf("%w: игра %s", common.ErrNotFound, gameID)
		}
	}

	var l rules.Layers
	if r, ok := m.rules[ruleKey{rules.ScopeGlobal, rules.GlobalID}]; ok {
		f := r.Fields
		l.Global = &f
	}
	if gameID != "" {
		if r, ok := m.rules[ruleKey{rules.ScopeGame, gameID}]; ok {
			f := r.Fields
			l.Game = &f
		}
	}
	if r, ok := m.rules[ruleKey{rules.ScopeClient, userID}]; ok {
		f := r.Fields
		l.Client = &f
	}
	return l, nil
}

func (m *Memory) UpsertRule(_ context.Context, r rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleKey{r.Scope, r.ScopeID}] = r
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, scope rules.Scope, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ruleKey{scope, scopeID}
	if _, ok := m.rules[key]; !ok {
		return fmt.Errorf("%w: правило %s/%s", common.ErrNotFound, scope, scopeID)
	}
	delete(m.rules, key)
	return nil
}

func (m *Memory) UpsertGame(_ context.Context, g rules.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
	return nil
}

// --- Акторы ---

func (m *Memory) Actor(_ context.Context, actorID string) (*actors.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actors[actorID]
	if !ok {
		return nil, fmt.Errorf("%w: актор %s", common.ErrNotFound, actorID)
	}
	return &a, nil
}

func (m *Memory) UpsertActor(_ context.Context, a *actors.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actors[a.ID] = *a
	return nil
}

func (m *Memory) ListActors(context.Context) ([]*actors.Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*actors.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

var _ Store = (*Memory)(nil)
