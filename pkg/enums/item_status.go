package enums

// ItemStatus maps to the item_status enum in Postgres.
type ItemStatus string

const (
	ItemStatusAvailable ItemStatus = "available"
	ItemStatusReserved  ItemStatus = "reserved"
	ItemStatusSold      ItemStatus = "sold"
)

// A sold item never moves again.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusAvailable: {ItemStatusReserved},
	ItemStatusReserved:  {ItemStatusSold, ItemStatusAvailable},
}

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	return member(next, itemTransitions[s]...)
}
