package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BpsDenominator is the divisor for all basis-point arithmetic.
const BpsDenominator = 10_000

// Rules bundles every tunable constant the trust core depends on. The zero
// value is not usable; start from Default and override via a rules file.
type Rules struct {
	// Dispute arbitration.
	VoteDuration    time.Duration
	VoteExtension   time.Duration
	MinVotes        int
	StrikeThreshold int

	// Seeds awarded for governance participation.
	VoteSeeds          int64
	MajorityBonusSeeds int64

	// Seeds awarded for growing the referral graph.
	RecruitSellerSeeds     int64
	RecruitAmbassadorSeeds int64

	// Referral reward splitting.
	RetentionBps  int64
	MaxChainDepth int
	VestingPeriod time.Duration

	// Voter qualification floor for referral-chain participants.
	MinRecruitsToVote int

	// Pre-launch bonus schedule. LaunchAt anchors the decay windows.
	LaunchAt        time.Time
	FullBonusWindow time.Duration
	HalfBonusWindow time.Duration
	FullBonusBps    int64
	HalfBonusBps    int64
	BaselineBps     int64
}

// Default returns the production rule set.
func Default() Rules {
	return Rules{
		VoteDuration:           72 * time.Hour,
		VoteExtension:          48 * time.Hour,
		MinVotes:               3,
		StrikeThreshold:        3,
		VoteSeeds:              10,
		MajorityBonusSeeds:     25,
		RecruitSellerSeeds:     30,
		RecruitAmbassadorSeeds: 50,
		RetentionBps:           8_000,
		MaxChainDepth:          3,
		VestingPeriod:          7 * 24 * time.Hour,
		MinRecruitsToVote:      1,
		FullBonusWindow:        30 * 24 * time.Hour,
		HalfBonusWindow:        30 * 24 * time.Hour,
		FullBonusBps:           20_000,
		HalfBonusBps:           15_000,
		BaselineBps:            10_000,
	}
}

// rulesFile is the YAML overlay: durations are Go duration strings ("72h"),
// launch_at is RFC 3339. Absent keys leave the default untouched.
type rulesFile struct {
	VoteDuration       *string `yaml:"vote_duration"`
	VoteExtension      *string `yaml:"vote_extension"`
	MinVotes           *int    `yaml:"min_votes"`
	StrikeThreshold    *int    `yaml:"strike_threshold"`
	VoteSeeds          *int64  `yaml:"vote_seeds"`
	MajorityBonusSeeds *int64  `yaml:"majority_bonus_seeds"`
	RecruitSellerSeeds *int64  `yaml:"recruit_seller_seeds"`
	RecruitAmbSeeds    *int64  `yaml:"recruit_ambassador_seeds"`
	RetentionBps       *int64  `yaml:"retention_bps"`
	MaxChainDepth      *int    `yaml:"max_chain_depth"`
	VestingPeriod      *string `yaml:"vesting_period"`
	MinRecruitsToVote  *int    `yaml:"min_recruits_to_vote"`
	LaunchAt           *string `yaml:"launch_at"`
	FullBonusWindow    *string `yaml:"full_bonus_window"`
	HalfBonusWindow    *string `yaml:"half_bonus_window"`
	FullBonusBps       *int64  `yaml:"full_bonus_bps"`
	HalfBonusBps       *int64  `yaml:"half_bonus_bps"`
	BaselineBps        *int64  `yaml:"baseline_bps"`
}

// Load reads a YAML rules file layered over Default. An empty path returns
// the defaults unchanged.
func Load(path string) (Rules, error) {
	rules := Default()
	if path == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("policy: read rules file: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Rules{}, fmt.Errorf("policy: parse rules file: %w", err)
	}
	if err := file.apply(&rules); err != nil {
		return Rules{}, err
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (f rulesFile) apply(rules *Rules) error {
	setDuration := func(key string, dst *time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("policy: parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	if err := setDuration("vote_duration", &rules.VoteDuration, f.VoteDuration); err != nil {
		return err
	}
	if err := setDuration("vote_extension", &rules.VoteExtension, f.VoteExtension); err != nil {
		return err
	}
	if err := setDuration("vesting_period", &rules.VestingPeriod, f.VestingPeriod); err != nil {
		return err
	}
	if err := setDuration("full_bonus_window", &rules.FullBonusWindow, f.FullBonusWindow); err != nil {
		return err
	}
	if err := setDuration("half_bonus_window", &rules.HalfBonusWindow, f.HalfBonusWindow); err != nil {
		return err
	}
	if f.LaunchAt != nil {
		ts, err := time.Parse(time.RFC3339, *f.LaunchAt)
		if err != nil {
			return fmt.Errorf("policy: parse launch_at: %w", err)
		}
		rules.LaunchAt = ts
	}
	if f.MinVotes != nil {
		rules.MinVotes = *f.MinVotes
	}
	if f.StrikeThreshold != nil {
		rules.StrikeThreshold = *f.StrikeThreshold
	}
	if f.VoteSeeds != nil {
		rules.VoteSeeds = *f.VoteSeeds
	}
	if f.MajorityBonusSeeds != nil {
		rules.MajorityBonusSeeds = *f.MajorityBonusSeeds
	}
	if f.RecruitSellerSeeds != nil {
		rules.RecruitSellerSeeds = *f.RecruitSellerSeeds
	}
	if f.RecruitAmbSeeds != nil {
		rules.RecruitAmbassadorSeeds = *f.RecruitAmbSeeds
	}
	if f.RetentionBps != nil {
		rules.RetentionBps = *f.RetentionBps
	}
	if f.MaxChainDepth != nil {
		rules.MaxChainDepth = *f.MaxChainDepth
	}
	if f.MinRecruitsToVote != nil {
		rules.MinRecruitsToVote = *f.MinRecruitsToVote
	}
	if f.FullBonusBps != nil {
		rules.FullBonusBps = *f.FullBonusBps
	}
	if f.HalfBonusBps != nil {
		rules.HalfBonusBps = *f.HalfBonusBps
	}
	if f.BaselineBps != nil {
		rules.BaselineBps = *f.BaselineBps
	}
	return nil
}

// Validate rejects rule sets that would make the state machines degenerate.
func (r Rules) Validate() error {
	if r.VoteDuration <= 0 || r.VoteExtension <= 0 {
		return fmt.Errorf("policy: vote windows must be positive")
	}
	if r.MinVotes < 1 {
		return fmt.Errorf("policy: min_votes must be at least 1")
	}
	if r.StrikeThreshold < 1 {
		return fmt.Errorf("policy: strike_threshold must be at least 1")
	}
	if r.RetentionBps <= 0 || r.RetentionBps > BpsDenominator {
		return fmt.Errorf("policy: retention_bps must be in (0, %d]", BpsDenominator)
	}
	if r.MaxChainDepth < 1 {
		return fmt.Errorf("policy: max_chain_depth must be at least 1")
	}
	if r.VestingPeriod < 0 {
		return fmt.Errorf("policy: vesting_period must not be negative")
	}
	if r.FullBonusBps < r.BaselineBps || r.HalfBonusBps < r.BaselineBps {
		return fmt.Errorf("policy: bonus multipliers must not fall below baseline")
	}
	return nil
}

// WindowOpen reports whether a vote cast at now still lands inside the
// voting window that closes at endsAt.
func (r Rules) WindowOpen(now, endsAt time.Time) bool {
	return now.Before(endsAt)
}

// QuorumMet reports whether totalVotes satisfies the resolution quorum.
func (r Rules) QuorumMet(totalVotes int) bool {
	return totalVotes >= r.MinVotes
}

// MultiplierBps returns the Seeds bonus multiplier, in basis points, in
// effect at ts. The schedule decays in two steps after LaunchAt and is a
// pure function of the timestamp so concurrent readers never race.
func (r Rules) MultiplierBps(ts time.Time) int64 {
	if r.LaunchAt.IsZero() {
		return r.BaselineBps
	}
	if ts.Before(r.LaunchAt) {
		return r.FullBonusBps
	}
	elapsed := ts.Sub(r.LaunchAt)
	switch {
	case elapsed < r.FullBonusWindow:
		return r.FullBonusBps
	case elapsed < r.FullBonusWindow+r.HalfBonusWindow:
		return r.HalfBonusBps
	default:
		return r.BaselineBps
	}
}

// ApplyMultiplier scales raw by the multiplier in effect at ts.
func (r Rules) ApplyMultiplier(raw int64, ts time.Time) int64 {
	return raw * r.MultiplierBps(ts) / BpsDenominator
}
