package authz

import (
	"context"
	"errors"
	"fmt"

	"escrowflow/escrow"
)

// ErrNotAllowed signals the actor lacks permission for the event.
var ErrNotAllowed = errors.New("authz: not allowed")

// eventRoles maps each transition event to the roles that may request it.
var eventRoles = map[escrow.Event][]string{
	escrow.EventFund:           {escrow.RoleBuyer},
	escrow.EventHold:           {escrow.RoleSeller, escrow.RoleArbiter},
	escrow.EventDispute:        {escrow.RoleBuyer, escrow.RoleSeller},
	escrow.EventRelease:        {escrow.RoleBuyer, escrow.RoleArbiter},
	escrow.EventRefund:         {escrow.RoleSeller, escrow.RoleArbiter},
	escrow.EventTimeoutRelease: {escrow.RoleSystem},
}

// RolePolicy authorizes transition requests from a fixed role table plus
// a participant check: buyers and sellers may only act on their own
// transactions, arbiters and the system actor are unrestricted.
type RolePolicy struct{}

func NewRolePolicy() *RolePolicy {
	return &RolePolicy{}
}

func (p *RolePolicy) Authorize(ctx context.Context, actor escrow.Actor, event escrow.Event, t escrow.Transaction) error {
	roles, ok := eventRoles[event]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrNotAllowed, event)
	}

	allowed := false
	for _, r := range roles {
		if actor.Role == r {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: role %s cannot %s", ErrNotAllowed, actor.Role, event)
	}

	switch actor.Role {
	case escrow.RoleBuyer:
		if actor.ID != t.BuyerID {
			return fmt.Errorf("%w: %s is not the buyer", ErrNotAllowed, actor.ID)
		}
	case escrow.RoleSeller:
		if actor.ID != t.SellerID {
			return fmt.Errorf("%w: %s is not the seller", ErrNotAllowed, actor.ID)
		}
	}
	return nil
}
