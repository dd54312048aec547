// Package tier derives reward roles from lifetime qualified-event counts.
// A user holds at most one tier role at a time: the highest tier whose
// threshold their count meets.
package tier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cinebot/attend/internal/audit"
	"github.com/cinebot/attend/internal/platform"
)

// Tier is one (threshold, reward role) rung of a guild's ladder.
type Tier struct {
	Threshold int
	RoleID    string
}

// Settings is the per-guild tier configuration consumed by the assigner.
type Settings struct {
	// Tiers is ordered ascending by threshold. Empty disables assignment.
	Tiers []Tier

	// PanicFrozen blocks all role changes while set.
	PanicFrozen bool
}

// QualifiedCounter reads a user's lifetime qualified-event count.
type QualifiedCounter interface {
	CountQualified(ctx context.Context, guildID, userID string) (int, error)
}

// Result reports what an update did. Side-effect failures (revokes, DM,
// audit) are collected here rather than propagated; only the count read and
// the grant itself can fail the operation.
type Result struct {
	QualifiedCount int
	TierIndex      int // 1-based rung reached; 0 = below all tiers
	GrantedRoleID  string
	AlreadyHeld    bool
	RevokedRoleIDs []string
	Messaged       bool
	SideEffectErrs []string
}

// Assigner drives tier role updates against the platform collaborator.
type Assigner struct {
	counts QualifiedCounter
	roles  platform.RoleManager
	dm     platform.Messenger
	sink   audit.Sink
	logger *slog.Logger
}

// AssignerOption configures an Assigner.
type AssignerOption func(*Assigner)

// WithMessenger enables tier-change DMs.
func WithMessenger(dm platform.Messenger) AssignerOption {
	return func(a *Assigner) { a.dm = dm }
}

// WithAuditSink enables audit-log entries for tier changes.
func WithAuditSink(sink audit.Sink) AssignerOption {
	return func(a *Assigner) { a.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AssignerOption {
	return func(a *Assigner) { a.logger = logger }
}

// NewAssigner creates an Assigner.
func NewAssigner(counts QualifiedCounter, roles platform.RoleManager, opts ...AssignerOption) *Assigner {
	a := &Assigner{
		counts: counts,
		roles:  roles,
		sink:   audit.NopSink{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UpdateTierRole recomputes the user's tier from their lifetime qualified
// count and reconciles roles: grant the matching tier's role (skipped if
// already held) and revoke every other configured tier role the user holds.
//
// Fails closed with an empty result when the guild is panic-frozen or has
// no tiers configured. The count read and the grant surface errors; every
// other side effect is best-effort.
func (a *Assigner) UpdateTierRole(ctx context.Context, guildID, userID string, set Settings) (Result, error) {
	if set.PanicFrozen || len(set.Tiers) == 0 {
		return Result{}, nil
	}

	count, err := a.counts.CountQualified(ctx, guildID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("count qualified events: %w", err)
	}

	result := Result{QualifiedCount: count}

	// Scan ascending; the last tier whose threshold the count meets wins.
	matched := -1
	for i, t := range set.Tiers {
		if count >= t.Threshold {
			matched = i
		}
	}
	if matched < 0 {
		// Below every tier: no role changes, no message.
		return result, nil
	}
	result.TierIndex = matched + 1
	target := set.Tiers[matched]

	held, err := a.roles.HasRole(ctx, guildID, userID, target.RoleID)
	if err != nil {
		// Lookup failure degrades to "not held"; the grant below settles it.
		a.logger.Warn("role lookup failed", "guild_id", guildID, "user_id", userID, "error", err)
		held = false
	}
	if held {
		result.AlreadyHeld = true
		result.GrantedRoleID = target.RoleID
	} else {
		if err := a.roles.GrantRole(ctx, guildID, userID, target.RoleID); err != nil {
			return result, fmt.Errorf("grant tier role %s: %w", target.RoleID, err)
		}
		result.GrantedRoleID = target.RoleID
	}

	// Revoke every other configured tier role the user holds, so nobody
	// ends up with two rungs at once.
	for i, t := range set.Tiers {
		if i == matched || t.RoleID == target.RoleID {
			continue
		}
		otherHeld, err := a.roles.HasRole(ctx, guildID, userID, t.RoleID)
		if err != nil {
			result.SideEffectErrs = append(result.SideEffectErrs, fmt.Sprintf("check role %s: %v", t.RoleID, err))
			continue
		}
		if !otherHeld {
			continue
		}
		if err := a.roles.RevokeRole(ctx, guildID, userID, t.RoleID); err != nil {
			result.SideEffectErrs = append(result.SideEffectErrs, fmt.Sprintf("revoke role %s: %v", t.RoleID, err))
			a.logger.Warn("tier role revoke failed", "guild_id", guildID, "role_id", t.RoleID, "error", err)
			continue
		}
		result.RevokedRoleIDs = append(result.RevokedRoleIDs, t.RoleID)
	}

	// Announce only newly reached tiers.
	if !result.AlreadyHeld && a.dm != nil {
		msg := tierMessage(result.TierIndex, count, set.Tiers, matched)
		if err := a.dm.SendDirectMessage(ctx, userID, msg); err != nil {
			result.SideEffectErrs = append(result.SideEffectErrs, fmt.Sprintf("dm: %v", err))
			a.logger.Warn("tier DM failed", "user_id", userID, "error", err)
		} else {
			result.Messaged = true
		}
	}

	if !result.AlreadyHeld {
		entry := audit.NewEntry("tier_update", guildID, userID, "",
			fmt.Sprintf("reached %s tier (%d qualified events)", Ordinal(result.TierIndex), count))
		if err := a.sink.Record(ctx, entry); err != nil {
			result.SideEffectErrs = append(result.SideEffectErrs, fmt.Sprintf("audit: %v", err))
			a.logger.Warn("tier audit entry failed", "guild_id", guildID, "error", err)
		}
	}

	return result, nil
}

// tierMessage builds the DM announcing a new tier, including progress
// toward the next tier or a top-of-ladder note.
func tierMessage(tierIndex, count int, tiers []Tier, matched int) string {
	msg := fmt.Sprintf("Congratulations! You've reached the %s attendance tier (%d qualified events).",
		Ordinal(tierIndex), count)
	if matched+1 < len(tiers) {
		next := tiers[matched+1]
		remaining := next.Threshold - count
		msg += fmt.Sprintf(" %d more to reach the %s tier.", remaining, Ordinal(matched+2))
	} else {
		msg += " You're at the top tier!"
	}
	return msg
}

// Ordinal formats n as an English ordinal: 1st, 2nd, 3rd, 4th, 11th, 12th,
// 13th, 21st and so on.
func Ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
		// teens always take th
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
