package swap

// RoleKind tags which economic position a participant holds. Seller owns
// the primary-chain asset pre-trade; Buyer owns the secondary-chain asset.
type RoleKind string

const (
	RoleSeller RoleKind = "seller"
	RoleBuyer  RoleKind = "buyer"
)

// ParticipantID returns the fixed participant id for a role: 0 for Seller,
// 1 for Buyer. The Buyer always holds the adaptor-signature secret.
func (r RoleKind) ParticipantID() uint8 {
	if r == RoleSeller {
		return 0
	}
	return 1
}

// SellerData carries the fields only the Seller role populates.
type SellerData struct {
	RefundAddress string
	ChangeAmount  uint64
}

// Role is the tagged variant of Session.Role: exactly one of SellerInfo or
// nothing is populated, selected by Kind.
type Role struct {
	Kind       RoleKind
	SellerInfo *SellerData // non-nil only when Kind == RoleSeller
}

// NewSellerRole builds a Seller role with the given refund address and
// change amount (the portion of the seller's selected inputs beyond
// primary_amount, going back to the seller in the lock slate).
func NewSellerRole(refundAddress string, changeAmount uint64) Role {
	return Role{
		Kind: RoleSeller,
		SellerInfo: &SellerData{
			RefundAddress: refundAddress,
			ChangeAmount:  changeAmount,
		},
	}
}

// NewBuyerRole builds a Buyer role.
func NewBuyerRole() Role {
	return Role{Kind: RoleBuyer}
}
