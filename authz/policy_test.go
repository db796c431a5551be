package authz

import (
	"context"
	"errors"
	"testing"

	"escrowflow/escrow"
)

func TestAuthorize_RoleTable(t *testing.T) {
	tx := escrow.Transaction{ID: "tx-1", BuyerID: "buyer-1", SellerID: "seller-1"}
	p := NewRolePolicy()

	cases := []struct {
		name    string
		actor   escrow.Actor
		event   escrow.Event
		allowed bool
	}{
		{"buyer funds", escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer}, escrow.EventFund, true},
		{"seller cannot fund", escrow.Actor{ID: "seller-1", Role: escrow.RoleSeller}, escrow.EventFund, false},
		{"seller holds", escrow.Actor{ID: "seller-1", Role: escrow.RoleSeller}, escrow.EventHold, true},
		{"arbiter holds", escrow.Actor{ID: "arb-1", Role: escrow.RoleArbiter}, escrow.EventHold, true},
		{"buyer cannot hold", escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer}, escrow.EventHold, false},
		{"buyer disputes", escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer}, escrow.EventDispute, true},
		{"seller disputes", escrow.Actor{ID: "seller-1", Role: escrow.RoleSeller}, escrow.EventDispute, true},
		{"arbiter cannot dispute", escrow.Actor{ID: "arb-1", Role: escrow.RoleArbiter}, escrow.EventDispute, false},
		{"buyer releases", escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer}, escrow.EventRelease, true},
		{"seller cannot release", escrow.Actor{ID: "seller-1", Role: escrow.RoleSeller}, escrow.EventRelease, false},
		{"seller refunds", escrow.Actor{ID: "seller-1", Role: escrow.RoleSeller}, escrow.EventRefund, true},
		{"buyer cannot refund", escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer}, escrow.EventRefund, false},
		{"system timeout release", escrow.System, escrow.EventTimeoutRelease, true},
		{"arbiter cannot timeout release", escrow.Actor{ID: "arb-1", Role: escrow.RoleArbiter}, escrow.EventTimeoutRelease, false},
		{"unknown event", escrow.Actor{ID: "arb-1", Role: escrow.RoleArbiter}, "cancel", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Authorize(context.Background(), tc.actor, tc.event, tx)
			if tc.allowed && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tc.allowed {
				if !errors.Is(err, ErrNotAllowed) {
					t.Fatalf("expected ErrNotAllowed, got %v", err)
				}
			}
		})
	}
}

func TestAuthorize_ParticipantsOnly(t *testing.T) {
	tx := escrow.Transaction{ID: "tx-1", BuyerID: "buyer-1", SellerID: "seller-1"}
	p := NewRolePolicy()

	err := p.Authorize(context.Background(), escrow.Actor{ID: "buyer-99", Role: escrow.RoleBuyer}, escrow.EventFund, tx)
	if !errors.Is(err, ErrNotAllowed) {
		t.Errorf("foreign buyer should be rejected, got %v", err)
	}

	err = p.Authorize(context.Background(), escrow.Actor{ID: "seller-99", Role: escrow.RoleSeller}, escrow.EventRefund, tx)
	if !errors.Is(err, ErrNotAllowed) {
		t.Errorf("foreign seller should be rejected, got %v", err)
	}

	// arbiters are not party-bound
	if err := p.Authorize(context.Background(), escrow.Actor{ID: "arb-7", Role: escrow.RoleArbiter}, escrow.EventRelease, tx); err != nil {
		t.Errorf("arbiter should be allowed on any transaction, got %v", err)
	}
}
