package model

// AccountState is the durable state of the paper account: daily PnL, kill
// switch, open positions, and the order/trade audit logs. Exactly one
// instance exists per process, owned by account.Manager; it is the sole
// source of truth for crash recovery.
//
// LastUpdated carries the local calendar date ("2006-01-02") used for
// day-rollover detection.
type AccountState struct {
	DailyPnL         int64                `json:"daily_pnl"` // realized, paise
	KillSwitchActive bool                 `json:"kill_switch_active"`
	OpenPositions    map[string]*Position `json:"open_positions"` // key = position token
	Orders           []Order              `json:"orders"`
	ClosedTrades     []ClosedTrade        `json:"closed_trades"`
	LastUpdated      string               `json:"last_updated"`
}

// NewAccountState returns a fresh, empty state.
func NewAccountState() *AccountState {
	return &AccountState{
		OpenPositions: make(map[string]*Position),
	}
}

// Clone returns a deep copy safe to read outside the account lock.
func (s *AccountState) Clone() *AccountState {
	cp := &AccountState{
		DailyPnL:         s.DailyPnL,
		KillSwitchActive: s.KillSwitchActive,
		OpenPositions:    make(map[string]*Position, len(s.OpenPositions)),
		Orders:           make([]Order, len(s.Orders)),
		ClosedTrades:     make([]ClosedTrade, len(s.ClosedTrades)),
		LastUpdated:      s.LastUpdated,
	}
	for token, pos := range s.OpenPositions {
		p := *pos
		cp.OpenPositions[token] = &p
	}
	copy(cp.Orders, s.Orders)
	copy(cp.ClosedTrades, s.ClosedTrades)
	return cp
}

// FindPositionBySymbol returns the first open position for symbol, or nil.
func (s *AccountState) FindPositionBySymbol(symbol string) *Position {
	for _, pos := range s.OpenPositions {
		if pos.Symbol == symbol {
			return pos
		}
	}
	return nil
}
