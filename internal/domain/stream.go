package domain

const (
	// MaxChoices is the highest valid choice index. Streams therefore carry
	// MaxChoices+1 per-choice totals.
	MaxChoices = 10
	// ChoiceSlots is the length of Stream.TotalByChoice.
	ChoiceSlots = MaxChoices + 1
	// MaxTitleLen bounds Stream.Title in bytes.
	MaxTitleLen = 200
	// MaxTipBps is 100% expressed in basis points.
	MaxTipBps = 10000
	// MaxPrecision bounds the display precision of a stream.
	MaxPrecision = 9
)

// Stream is one prediction event and its lifecycle state.
type Stream struct {
	Address         Address             `json:"address"`
	Creator         Address             `json:"creator"`
	StreamID        uint64              `json:"stream_id"`
	Title           string              `json:"title"`
	StartTime       int64               `json:"start_time"`
	EndTime         int64               `json:"end_time"`
	LockOffsetSecs  uint32              `json:"lock_offset_secs"`
	GracePeriodSecs uint32              `json:"grace_period_secs"`
	TipBps          uint16              `json:"tip_bps"`
	Precision       uint8               `json:"precision"`
	ConfigHash      Hash                `json:"config_hash"`
	TotalStake      uint64              `json:"total_stake"`
	TotalByChoice   [ChoiceSlots]uint64 `json:"total_by_choice"`
	IsActive        bool                `json:"is_active"`
	IsResolved      bool                `json:"is_resolved"`
	WinningChoice   uint8               `json:"winning_choice"`
	TipAmount       uint64              `json:"tip_amount"`
	ResolvedAt      int64               `json:"resolved_at"`
	CanceledAt      int64               `json:"canceled_at"`
}

// IsActivated reports whether the configuration hash has been committed.
func (s Stream) IsActivated() bool { return !s.ConfigHash.IsZero() }

// IsCanceled reports whether the stream reached the canceled terminal state.
func (s Stream) IsCanceled() bool { return s.CanceledAt != 0 }

// IsSettled reports whether the stream is resolved or canceled.
func (s Stream) IsSettled() bool { return s.IsResolved || s.IsCanceled() }

// LockTime is the first unix second at which predictions are rejected.
func (s Stream) LockTime() int64 { return s.StartTime + int64(s.LockOffsetSecs) }

// Status is a display label derived from the lifecycle flags.
func (s Stream) Status() string {
	switch {
	case s.IsCanceled():
		return "canceled"
	case s.IsResolved:
		return "resolved"
	case !s.IsActive:
		return "ended"
	case s.IsActivated():
		return "activated"
	default:
		return "created"
	}
}

// TokenVault escrows the stakes of one stream.
type TokenVault struct {
	Address        Address `json:"address"`
	Stream         Address `json:"stream"`
	Mint           Address `json:"mint"`
	TokenAccount   Address `json:"token_account"`
	TotalDeposited uint64  `json:"total_deposited"`
	TotalReleased  uint64  `json:"total_released"`
}

// Held is the amount the vault still accounts for.
func (v TokenVault) Held() uint64 { return v.TotalDeposited - v.TotalReleased }

// Prediction is one viewer's stake on one choice of one stream.
type Prediction struct {
	Address       Address `json:"address"`
	Stream        Address `json:"stream"`
	Viewer        Address `json:"viewer"`
	Choice        uint8   `json:"choice"`
	Amount        uint64  `json:"amount"`
	Timestamp     int64   `json:"timestamp"`
	RewardClaimed bool    `json:"reward_claimed"`
	Refunded      bool    `json:"refunded"`
}

// Participant records that a viewer joined a stream. StakeAmount is kept
// for layout compatibility and is never used for payouts.
type Participant struct {
	Address     Address `json:"address"`
	Stream      Address `json:"stream"`
	Viewer      Address `json:"viewer"`
	StakeAmount uint64  `json:"stake_amount"`
	JoinedAt    int64   `json:"joined_at"`
	HasClaimed  bool    `json:"has_claimed"`
}

// CommunityVault is the protocol-wide contribution pool.
type CommunityVault struct {
	Address            Address `json:"address"`
	Authority          Address `json:"authority"`
	Mint               Address `json:"mint"`
	TokenAccount       Address `json:"token_account"`
	TotalContributions uint64  `json:"total_contributions"`
}

// TokenAccount holds a balance of one mint on behalf of an owner. The owner
// is the only authority allowed to move funds out of the account.
type TokenAccount struct {
	Address Address `json:"address"`
	Mint    Address `json:"mint"`
	Owner   Address `json:"owner"`
	Balance uint64  `json:"balance"`
}
